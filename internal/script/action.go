package script

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// DefaultActionSource is the source stamped on events a script publishes
// without one.
const DefaultActionSource = "script"

// Action is a compiled Lua chunk run as a rule action.
//
// The chunk sees the triggering event as "event" and a "bus" table:
//
//	bus.publish(type, payload [, metadata])
//	bus.log(message)
//
// Published events inherit the trigger's correlation ID (or its ID when it
// has none) and its branch, business, session and user IDs unless the
// metadata table overrides them.
type Action struct {
	name   string
	proto  *lua.FunctionProto
	state  *State
	pub    event.Publisher
	logger *logging.Logger
}

// CompileAction compiles code as an action that publishes through pub.
func CompileAction(code string, pub event.Publisher, opts ...Option) (*Action, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if pub == nil {
		return nil, fmt.Errorf("%w: %s: nil publisher", ErrCompile, o.name)
	}

	proto, err := Compile(o.name, code)
	if err != nil {
		return nil, err
	}

	return &Action{
		name:   o.name,
		proto:  proto,
		state:  NewState(WithTimeout(o.timeout)),
		pub:    pub,
		logger: o.logger.WithField("script", o.name),
	}, nil
}

// Handle implements event.Handler.
func (a *Action) Handle(ctx context.Context, e event.Event) error {
	_, err := a.state.Run(ctx, a.proto, func(L *lua.LState) {
		L.SetGlobal("event", EventToTable(L, e))
		L.SetGlobal("bus", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"publish": a.publishFunc(e),
			"log":     a.logFunc(e),
		}))
	})
	return err
}

func (a *Action) publishFunc(trigger event.Event) lua.LGFunction {
	return func(L *lua.LState) int {
		t := L.CheckString(1)
		payload := ToGoValue(L.Get(2))

		var metaTable *lua.LTable
		if L.GetTop() >= 3 && L.Get(3) != lua.LNil {
			metaTable = L.CheckTable(3)
		}
		md, err := MetadataFromTable(metaTable)
		if err != nil {
			L.ArgError(3, err.Error())
			return 0
		}
		inherit(&md, trigger)

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := a.pub.Publish(ctx, event.NewEvent(event.Type(t), payload, md)); err != nil {
			L.RaiseError("bus.publish(%s): %v", t, err)
			return 0
		}
		return 0
	}
}

func (a *Action) logFunc(trigger event.Event) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		a.logger.Info("%s [%s %s]", msg, trigger.Type, trigger.Metadata.ID)
		return 0
	}
}

func inherit(md *event.Metadata, trigger event.Event) {
	if md.Source == "" {
		md.Source = DefaultActionSource
	}
	if md.CorrelationID == "" {
		md.CorrelationID = trigger.Metadata.CorrelationID
		if md.CorrelationID == "" {
			md.CorrelationID = trigger.Metadata.ID
		}
	}
	if md.BranchID == "" {
		md.BranchID = trigger.Metadata.BranchID
	}
	if md.BusinessID == "" {
		md.BusinessID = trigger.Metadata.BusinessID
	}
	if md.SessionID == "" {
		md.SessionID = trigger.Metadata.SessionID
	}
	if md.UserID == "" {
		md.UserID = trigger.Metadata.UserID
	}
}

// Name returns the chunk name.
func (a *Action) Name() string {
	return a.name
}

// Close releases the Lua state.
func (a *Action) Close() error {
	return a.state.Close()
}
