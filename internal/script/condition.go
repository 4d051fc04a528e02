package script

import (
	"context"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// Option configures a compiled condition or action.
type Option func(*options)

type options struct {
	name    string
	timeout time.Duration
	logger  *logging.Logger
}

func defaultOptions() options {
	return options{
		name:    "script",
		timeout: DefaultTimeout,
		logger:  logging.Nop(),
	}
}

// WithName names the chunk in error messages.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithDeadline bounds each evaluation. Zero disables the deadline.
func WithDeadline(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLogger sets the logger used by bus.log and by filter failures.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Condition is a compiled Lua boolean expression over an event.
// The event is bound to the global "event" (see EventToTable).
type Condition struct {
	name   string
	proto  *lua.FunctionProto
	state  *State
	logger *logging.Logger
}

// CompileCondition compiles expr, e.g.
//
//	event.payload.amount > 100 and event.metadata.branchId == "cairo-1"
//
// A chunk that already starts with "return" is compiled as is.
func CompileCondition(expr string, opts ...Option) (*Condition, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	src := strings.TrimSpace(expr)
	if src == "" {
		return nil, fmt.Errorf("%w: %s: empty condition", ErrCompile, o.name)
	}
	if !strings.HasPrefix(src, "return") {
		src = "return (" + src + ")"
	}

	proto, err := Compile(o.name, src)
	if err != nil {
		return nil, err
	}

	return &Condition{
		name:   o.name,
		proto:  proto,
		state:  NewState(WithTimeout(o.timeout)),
		logger: o.logger.WithField("script", o.name),
	}, nil
}

// Match evaluates the condition. A nil result counts as false; any other
// non-boolean result is an error.
func (c *Condition) Match(ctx context.Context, e event.Event) (bool, error) {
	ret, err := c.state.Run(ctx, c.proto, func(L *lua.LState) {
		L.SetGlobal("event", EventToTable(L, e))
	})
	if err != nil {
		return false, err
	}

	switch v := ret.(type) {
	case lua.LBool:
		return bool(v), nil
	case *lua.LNilType:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s returned %s", ErrNotBoolean, c.name, ret.Type())
	}
}

// Filter adapts the condition to an event.FilterFunc. Evaluation errors are
// logged and treated as a non-match.
func (c *Condition) Filter() event.FilterFunc {
	return func(e event.Event) bool {
		ok, err := c.Match(context.Background(), e)
		if err != nil {
			c.logger.Warn("condition failed for %s %s: %v", e.Type, e.Metadata.ID, err)
			return false
		}
		return ok
	}
}

// Name returns the chunk name.
func (c *Condition) Name() string {
	return c.name
}

// Close releases the Lua state.
func (c *Condition) Close() error {
	return c.state.Close()
}
