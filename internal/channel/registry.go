// Package channel holds the per-buffer set of subscriber channels.
//
// A Registry is owned by exactly one buffer and is only touched from the
// host's event loop, so it carries no lock.
package channel

import "strconv"

// ID identifies a subscriber channel. Zero is never a valid channel.
type ID uint64

// String returns the decimal form of the id.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Registry is an ordered set of channel IDs.
// Insertion order is the dispatch order; it carries no other meaning.
type Registry struct {
	ids []ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	return len(r.ids)
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id ID) bool {
	for _, existing := range r.ids {
		if existing == id {
			return true
		}
	}
	return false
}

// Add appends id unless it is already present.
// Returns true if the id was added.
func (r *Registry) Add(id ID) bool {
	if r.Contains(id) {
		return false
	}
	r.ids = append(r.ids, id)
	return true
}

// Remove deletes every occurrence of id and returns how many were removed.
// When the registry becomes empty its storage is released.
func (r *Registry) Remove(id ID) int {
	if len(r.ids) == 0 {
		return 0
	}

	j := 0
	found := 0
	for i, existing := range r.ids {
		if existing == id {
			found++
			continue
		}
		if i != j {
			r.ids[j] = existing
		}
		j++
	}
	if found == 0 {
		return 0
	}

	if j == 0 {
		r.ids = nil
		return found
	}

	// Zero the vacated tail so stale ids are not observable through cap.
	for k := j; k < len(r.ids); k++ {
		r.ids[k] = 0
	}
	r.ids = r.ids[:j]
	return found
}

// RemoveAll empties the registry and returns the prior contents in order.
func (r *Registry) RemoveAll() []ID {
	ids := r.ids
	r.ids = nil
	return ids
}

// IDs returns a copy of the registered ids in dispatch order.
// The copy stays valid while the registry is mutated.
func (r *Registry) IDs() []ID {
	if len(r.ids) == 0 {
		return nil
	}
	out := make([]ID, len(r.ids))
	copy(out, r.ids)
	return out
}

// Cap returns the capacity of the backing storage.
// An empty registry always reports zero.
func (r *Registry) Cap() int {
	return cap(r.ids)
}
