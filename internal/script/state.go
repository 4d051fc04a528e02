package script

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultTimeout bounds a single script evaluation.
const DefaultTimeout = time.Second

// State wraps a sandboxed gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe; State serializes every call
// with a mutex.
type State struct {
	L *lua.LState

	mu      sync.Mutex
	timeout time.Duration
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithTimeout sets the execution deadline for each call. Zero disables it.
func WithTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.timeout = d
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) *State {
	s := &State{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})
	openSafeLibraries(L)
	installSandbox(L)

	s.L = L
	return s
}

// openSafeLibraries opens only the side-effect free standard libraries.
// io, os, debug, package and channel stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// installSandbox removes base functions that load code or reach outside the state.
func installSandbox(L *lua.LState) {
	for _, name := range []string{
		"dofile",
		"loadfile",
		"load",
		"loadstring",
		"require",
		"module",
		"collectgarbage",
		"getfenv",
		"setfenv",
		"newproxy",
		"_printregs",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

// Compile parses and compiles a chunk once so it can be run repeatedly.
func Compile(name, src string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCompile, name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCompile, name, err)
	}
	return proto, nil
}

// Run executes a compiled chunk under the state's deadline and returns its
// first result. setup runs first, under the same lock, to bind globals.
func (s *State) Run(ctx context.Context, proto *lua.FunctionProto, setup func(L *lua.LState)) (lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil, ErrStateClosed
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	if setup != nil {
		setup(s.L)
	}

	top := s.L.GetTop()
	s.L.Push(s.L.NewFunctionFromProto(proto))
	if err := s.doWithRecovery(func() error { return s.L.PCall(0, 1, nil) }); err != nil {
		s.L.SetTop(top)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return lua.LNil, fmt.Errorf("%w: %v", ErrTimeout, ctxErr)
		}
		return lua.LNil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	ret := s.L.Get(-1)
	s.L.SetTop(top)
	return ret, nil
}

// DoString compiles and runs code once.
func (s *State) DoString(ctx context.Context, code string) (lua.LValue, error) {
	proto, err := Compile("chunk", code)
	if err != nil {
		return lua.LNil, err
	}
	return s.Run(ctx, proto, nil)
}

// doWithRecovery executes a function with panic recovery.
func (s *State) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// RegisterModule registers a global table of Go functions.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, s.L.SetFuncs(s.L.NewTable(), funcs))
}

// Close releases the Lua state. Further calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
