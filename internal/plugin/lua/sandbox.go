package lua

import (
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/bufstream/internal/logging"
)

// Sandbox restricts what a script can load and where its output goes.
type Sandbox struct {
	L      *lua.LState
	logger *logging.Logger

	mu      sync.RWMutex
	modules map[string]bool
}

// NewSandbox creates a sandbox for L. Script print output goes to logger.
func NewSandbox(L *lua.LState, logger *logging.Logger) *Sandbox {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Sandbox{
		L:      L,
		logger: logger,
		modules: map[string]bool{
			"string": true,
			"table":  true,
			"math":   true,
		},
	}
}

// Install removes unsafe globals and replaces print and require.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafePrint()
	s.installSafeRequire()
}

// AllowModule adds name to the modules require may return.
func (s *Sandbox) AllowModule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[name] = true
}

// IsAllowed reports whether require(name) is permitted.
func (s *Sandbox) IsAllowed(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modules[name]
}

// installSafePrint sends print output to the logger instead of stdout,
// which may be carrying the RPC stream.
func (s *Sandbox) installSafePrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		s.logger.Info("%s", strings.Join(parts, "\t"))
		return 0
	}))
}

// installSafeRequire stops module loading from disk and only lets through
// whitelisted built-ins and registered modules.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)
		if !s.IsAllowed(modName) {
			L.RaiseError("module %q is not available", modName)
			return 0
		}

		if global := L.GetGlobal(modName); global != lua.LNil {
			L.Push(global)
			return 1
		}
		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}
