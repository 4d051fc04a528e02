package event

import (
	"errors"
	"strings"
	"testing"
)

func TestHandlerError(t *testing.T) {
	inner := errors.New("boom")
	err := &HandlerError{SubscriptionID: "sub_1", EventType: "X", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("HandlerError should unwrap to the inner error")
	}
	msg := err.Error()
	for _, want := range []string{"sub_1", "X", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestRuleError(t *testing.T) {
	inner := errors.New("bad")

	action := &RuleError{RuleID: "rule_1", RuleName: "retry", Action: 2, Err: inner}
	if !errors.Is(action, inner) || !strings.Contains(action.Error(), "action 2") {
		t.Errorf("unexpected action error: %v", action)
	}

	cond := &RuleError{RuleID: "rule_1", RuleName: "retry", Action: -1, Err: inner}
	if !strings.Contains(cond.Error(), "condition") {
		t.Errorf("unexpected condition error: %v", cond)
	}
}

func TestPanicError(t *testing.T) {
	err := newPanicError("oops")

	if !errors.Is(err, ErrHandlerPanic) {
		t.Error("PanicError should match ErrHandlerPanic")
	}
	if err.Error() != "panic: oops" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Stack == "" {
		t.Error("expected a stack")
	}
}

func TestEvaluateRecoversPanic(t *testing.T) {
	ok, err := evaluate(func(Event) bool { panic("bad") }, Event{})
	if ok || !errors.Is(err, ErrHandlerPanic) {
		t.Errorf("evaluate() = %v, %v", ok, err)
	}

	ok, err = evaluate(All(), Event{})
	if !ok || err != nil {
		t.Errorf("evaluate(All) = %v, %v", ok, err)
	}
}
