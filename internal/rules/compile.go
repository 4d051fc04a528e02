package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
	"github.com/Alnajaar/nilelink-sub003/internal/script"
)

// DefaultSource is stamped on events published by rule files.
const DefaultSource = "rules"

// Compiled is a rule ready to be added to a bus, plus the Lua states it
// owns.
type Compiled struct {
	Rule    event.Rule
	closers []io.Closer
}

// Close releases the rule's Lua states.
func (c *Compiled) Close() error {
	var first error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

// Compile validates f and turns each spec into a bus rule. Derived events
// are published through pub.
func Compile(f *File, pub event.Publisher, logger *logging.Logger) ([]*Compiled, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	out := make([]*Compiled, 0, len(f.Rules))
	for _, spec := range f.Rules {
		c, err := compileSpec(f.Path, spec, pub, logger.WithField("rule", spec.Name))
		if err != nil {
			for _, done := range out {
				_ = done.Close()
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func compileSpec(file string, spec Spec, pub event.Publisher, logger *logging.Logger) (*Compiled, error) {
	c := &Compiled{}
	name := file + ":" + spec.Name

	cond, err := compileWhen(spec.When, name, logger, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	actions := make([]event.Handler, 0, len(spec.Then))
	for i, a := range spec.Then {
		h, err := compileAction(a, fmt.Sprintf("%s#%d", name, i+1), pub, logger, c)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		actions = append(actions, h)
	}

	c.Rule = event.Rule{
		Name:      spec.Name,
		Condition: cond,
		Actions:   actions,
		Enabled:   spec.IsEnabled(),
		Priority:  spec.Priority,
	}
	return c, nil
}

func compileWhen(w When, name string, logger *logging.Logger, c *Compiled) (event.FilterFunc, error) {
	var filters []event.FilterFunc

	if len(w.Types) > 0 {
		types := make([]event.Type, len(w.Types))
		for i, t := range w.Types {
			types[i] = event.Type(t)
		}
		filters = append(filters, event.ByType(types...))
	}
	if len(w.Sources) > 0 {
		var anySource []event.FilterFunc
		for _, s := range w.Sources {
			anySource = append(anySource, event.BySource(s))
		}
		filters = append(filters, event.Or(anySource...))
	}
	if len(w.Priorities) > 0 {
		ps := make([]event.Priority, 0, len(w.Priorities))
		for _, p := range w.Priorities {
			parsed, err := event.ParsePriority(p)
			if err != nil {
				return nil, err
			}
			ps = append(ps, parsed)
		}
		filters = append(filters, event.ByPriority(ps...))
	}
	if len(w.Scopes) > 0 {
		ss := make([]event.Scope, 0, len(w.Scopes))
		for _, s := range w.Scopes {
			parsed, err := event.ParseScope(s)
			if err != nil {
				return nil, err
			}
			ss = append(ss, parsed)
		}
		filters = append(filters, event.ByScope(ss...))
	}
	if len(w.Match) > 0 {
		filters = append(filters, matchFilter(w.Match))
	}
	if w.Lua != "" {
		cond, err := script.CompileCondition(w.Lua, script.WithName(name), script.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, cond)
		filters = append(filters, cond.Filter())
	}

	if len(filters) == 0 {
		return event.All(), nil
	}
	return event.Combine(filters...), nil
}

// matchFilter encodes the event once and tests every path against it.
func matchFilter(match map[string]Matcher) event.FilterFunc {
	return func(e event.Event) bool {
		doc, err := Envelope(e)
		if err != nil {
			return false
		}
		for path, m := range match {
			if !m.Test(gjson.GetBytes(doc, path)) {
				return false
			}
		}
		return true
	}
}

// Envelope is the JSON document gjson paths in rule files address:
// {"type": ..., "payload": ..., "metadata": {...}}.
func Envelope(e event.Event) ([]byte, error) {
	return json.Marshal(e)
}

func compileAction(a Action, name string, pub event.Publisher, logger *logging.Logger, c *Compiled) (event.Handler, error) {
	switch {
	case a.Publish != nil:
		return &publishAction{spec: *a.Publish, pub: pub}, nil
	case a.Lua != "":
		act, err := script.CompileAction(a.Lua, pub, script.WithName(name), script.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, act)
		return act, nil
	default:
		return &logAction{template: a.Log, logger: logger}, nil
	}
}

type publishAction struct {
	spec PublishAction
	pub  event.Publisher
}

func (a *publishAction) Handle(ctx context.Context, trigger event.Event) error {
	payload, err := a.payload(trigger)
	if err != nil {
		return err
	}

	md := event.Metadata{Source: a.spec.Source}
	if md.Source == "" {
		md.Source = DefaultSource
	}
	if a.spec.Priority != "" {
		md.Priority, _ = event.ParsePriority(a.spec.Priority)
	}
	if a.spec.Scope != "" {
		md.Scope, _ = event.ParseScope(a.spec.Scope)
	}
	if a.spec.correlates() {
		tm := trigger.Metadata
		md.CorrelationID = tm.CorrelationID
		if md.CorrelationID == "" {
			md.CorrelationID = tm.ID
		}
		md.BranchID = tm.BranchID
		md.BusinessID = tm.BusinessID
		md.SessionID = tm.SessionID
		md.UserID = tm.UserID
	}

	return a.pub.Publish(ctx, event.NewEvent(event.Type(a.spec.Type), payload, md))
}

// payload builds the static payload and applies the copy list.
func (a *publishAction) payload(trigger event.Event) (any, error) {
	if len(a.spec.Copy) == 0 {
		return a.spec.Payload, nil
	}

	doc, err := json.Marshal(a.spec.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	if a.spec.Payload == nil {
		doc = []byte("{}")
	}
	src, err := Envelope(trigger)
	if err != nil {
		return nil, fmt.Errorf("encoding trigger: %w", err)
	}

	for dst, from := range a.spec.Copy {
		r := gjson.GetBytes(src, from)
		if !r.Exists() {
			continue
		}
		doc, err = sjson.SetRawBytes(doc, dst, []byte(r.Raw))
		if err != nil {
			return nil, fmt.Errorf("copy %s -> %s: %w", from, dst, err)
		}
	}

	var out any
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return out, nil
}

var placeholder = regexp.MustCompile(`\{([^{}\s]+)\}`)

type logAction struct {
	template string
	logger   *logging.Logger
}

// Handle logs the template with {path} placeholders resolved on the
// event envelope.
func (a *logAction) Handle(_ context.Context, e event.Event) error {
	msg := a.template
	if strings.Contains(msg, "{") {
		doc, err := Envelope(e)
		if err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}
		msg = placeholder.ReplaceAllStringFunc(msg, func(m string) string {
			r := gjson.GetBytes(doc, m[1:len(m)-1])
			if !r.Exists() {
				return m
			}
			return r.String()
		})
	}
	a.logger.Info("%s", msg)
	return nil
}
