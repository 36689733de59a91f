package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/engine/buffer"
	"github.com/dshills/bufstream/internal/host"
	"github.com/dshills/bufstream/internal/logging"
)

const (
	// EventHandler is the global function called for every notification.
	EventHandler = "on_buf_event"

	// ModuleName is the name of the module scripts use to reach the host.
	ModuleName = "bufstream"

	// DefaultMaxScriptErrors is how many consecutive handler failures close a subscriber.
	DefaultMaxScriptErrors = 5

	// DefaultCallTimeout bounds each host call made from a script.
	DefaultCallTimeout = 5 * time.Second
)

// Service is the buffer API available to scripts. *host.Host implements it.
type Service interface {
	Attach(ctx context.Context, ch channel.ID, handle buffer.Handle, sendBuffer bool) error
	Detach(ctx context.Context, ch channel.ID, handle buffer.Handle) error
	GetLines(ctx context.Context, handle buffer.Handle, start, end int) ([]string, error)
	SetLines(ctx context.Context, handle buffer.Handle, start, end int, lines []string) error
	LineCount(ctx context.Context, handle buffer.Handle) (int, error)
	Revision(ctx context.Context, handle buffer.Handle) (uint64, error)
}

// Subscriber runs a Lua script as a buffer-update channel. Each notification
// calls on_buf_event(name, args) in the script.
type Subscriber struct {
	name        string
	svc         Service
	state       *State
	bridge      *Bridge
	logger      *logging.Logger
	maxErrors   int32
	callTimeout time.Duration
	stateOpts   []StateOption

	id        atomic.Uint64
	failures  atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the subscriber logger. Script print output also goes here.
func WithSubscriberLogger(l *logging.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxScriptErrors sets how many consecutive failures close the subscriber.
func WithMaxScriptErrors(n int) SubscriberOption {
	return func(s *Subscriber) {
		if n > 0 {
			s.maxErrors = int32(n)
		}
	}
}

// WithCallTimeout bounds host calls made through the bufstream module.
func WithCallTimeout(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithStateOptions passes options to the underlying Lua state.
func WithStateOptions(opts ...StateOption) SubscriberOption {
	return func(s *Subscriber) {
		s.stateOpts = append(s.stateOpts, opts...)
	}
}

// NewSubscriber creates a subscriber named name. Load a script with
// LoadString or LoadFile after the subscriber has been bound to a channel.
func NewSubscriber(name string, svc Service, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		name:        name,
		svc:         svc,
		logger:      logging.Nop(),
		maxErrors:   DefaultMaxScriptErrors,
		callTimeout: DefaultCallTimeout,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(map[string]any{"component": "lua", "script": name})

	stateOpts := append([]StateOption{WithStateLogger(s.logger)}, s.stateOpts...)
	s.state = NewState(stateOpts...)
	s.bridge = NewBridge(s.state.L)
	s.state.RegisterModule(ModuleName, s.moduleFuncs())
	return s
}

// Name returns the script name.
func (s *Subscriber) Name() string { return s.name }

// Bind sets the channel id the script attaches with.
func (s *Subscriber) Bind(id channel.ID) { s.id.Store(uint64(id)) }

// ID returns the bound channel id.
func (s *Subscriber) ID() channel.ID { return channel.ID(s.id.Load()) }

// LoadString runs a script chunk.
func (s *Subscriber) LoadString(code string) error {
	if err := s.state.DoString(code); err != nil {
		return fmt.Errorf("load %s: %w", s.name, err)
	}
	return nil
}

// LoadFile runs a script file.
func (s *Subscriber) LoadFile(path string) error {
	if err := s.state.DoFile(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Kind implements rpc.Endpoint.
func (s *Subscriber) Kind() string { return "lua" }

// Done implements rpc.Endpoint.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Close implements rpc.Endpoint.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.state.Close()
	})
	return err
}

// Notify implements rpc.Endpoint. Script errors are logged and tolerated
// until the consecutive-failure limit, at which point the subscriber closes
// and Notify reports ErrTooManyErrors.
func (s *Subscriber) Notify(ctx context.Context, method string, params any) error {
	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}

	err := s.state.Do(func(L *lua.LState) error {
		fn := L.GetGlobal(EventHandler)
		if fn.Type() != lua.LTFunction {
			return nil
		}
		return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
			lua.LString(method), s.bridge.ToLuaValue(params))
	})
	if err == nil {
		s.failures.Store(0)
		return nil
	}
	if errors.Is(err, ErrStateClosed) {
		return ErrSubscriberClosed
	}

	n := s.failures.Add(1)
	s.logger.Warn("%s handler failed (%d/%d): %v", method, n, s.maxErrors, err)
	if n >= s.maxErrors {
		s.logger.Error("closing script after %d consecutive errors", n)
		_ = s.Close()
		return fmt.Errorf("%w: %s", ErrTooManyErrors, s.name)
	}
	return nil
}

func (s *Subscriber) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.callTimeout)
}

// moduleFuncs builds the bufstream module.
func (s *Subscriber) moduleFuncs() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"channel_id": func(L *lua.LState) int {
			L.Push(lua.LNumber(s.ID()))
			return 1
		},

		"attach": func(L *lua.LState) int {
			handle := buffer.Handle(L.CheckInt64(1))
			sendBuffer := L.OptBool(2, false)

			ctx, cancel := s.callContext()
			defer cancel()
			err := s.svc.Attach(ctx, s.ID(), handle, sendBuffer)
			if errors.Is(err, host.ErrBufferNotLoaded) {
				L.Push(lua.LFalse)
				return 1
			}
			if err != nil {
				L.RaiseError("attach: %v", err)
				return 0
			}
			L.Push(lua.LTrue)
			return 1
		},

		"detach": func(L *lua.LState) int {
			handle := buffer.Handle(L.CheckInt64(1))

			ctx, cancel := s.callContext()
			defer cancel()
			if err := s.svc.Detach(ctx, s.ID(), handle); err != nil {
				L.RaiseError("detach: %v", err)
				return 0
			}
			L.Push(lua.LTrue)
			return 1
		},

		"get_lines": func(L *lua.LState) int {
			handle := buffer.Handle(L.CheckInt64(1))
			start := L.OptInt(2, 0)
			end := L.OptInt(3, -1)

			ctx, cancel := s.callContext()
			defer cancel()
			lines, err := s.svc.GetLines(ctx, handle, start, end)
			if err != nil {
				L.RaiseError("get_lines: %v", err)
				return 0
			}
			L.Push(s.bridge.ToLuaValue(lines))
			return 1
		},

		"set_lines": func(L *lua.LState) int {
			handle := buffer.Handle(L.CheckInt64(1))
			start := L.CheckInt(2)
			end := L.CheckInt(3)
			lines, err := s.bridge.ToStringSlice(L.CheckTable(4))
			if err != nil {
				L.ArgError(4, err.Error())
				return 0
			}

			ctx, cancel := s.callContext()
			defer cancel()
			if err := s.svc.SetLines(ctx, handle, start, end, lines); err != nil {
				L.RaiseError("set_lines: %v", err)
			}
			return 0
		},

		"line_count": func(L *lua.LState) int {
			handle := buffer.Handle(L.CheckInt64(1))

			ctx, cancel := s.callContext()
			defer cancel()
			n, err := s.svc.LineCount(ctx, handle)
			if err != nil {
				L.RaiseError("line_count: %v", err)
				return 0
			}
			L.Push(lua.LNumber(n))
			return 1
		},

		"changedtick": func(L *lua.LState) int {
			handle := buffer.Handle(L.CheckInt64(1))

			ctx, cancel := s.callContext()
			defer cancel()
			rev, err := s.svc.Revision(ctx, handle)
			if err != nil {
				L.RaiseError("changedtick: %v", err)
				return 0
			}
			L.Push(lua.LNumber(rev))
			return 1
		},
	}
}
