package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type testEvent struct {
	name string
}

func newTestHandler(fn func(ctx context.Context, e testEvent) error) Handler[testEvent] {
	return HandlerFunc[testEvent](fn)
}

func TestResult_IsSuccess(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		expected bool
	}{
		{"success", Result{Success: true}, true},
		{"error", Result{Error: errors.New("error")}, false},
		{"panic", Result{Panicked: true}, false},
		{"skipped", Result{Skipped: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.IsSuccess(); got != tt.expected {
				t.Errorf("IsSuccess() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestResult_IsError(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		expected bool
	}{
		{"success", Result{Success: true}, false},
		{"error", Result{Error: errors.New("error")}, true},
		{"panic", Result{Panicked: true, PanicValue: "panic"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.IsError(); got != tt.expected {
				t.Errorf("IsError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestResult_Err(t *testing.T) {
	boom := errors.New("boom")

	if err := (Result{Success: true}).Err(); err != nil {
		t.Errorf("success Err() = %v, want nil", err)
	}
	if err := (Result{Error: boom}).Err(); !errors.Is(err, boom) {
		t.Errorf("error Err() = %v, want boom", err)
	}

	err := (Result{Panicked: true, PanicValue: "kaput"}).Err()
	if !errors.Is(err, ErrPanic) {
		t.Errorf("panic Err() = %v, want ErrPanic", err)
	}
	if !strings.Contains(err.Error(), "kaput") {
		t.Errorf("panic Err() = %q, want panic value in message", err.Error())
	}

	if err := (Result{Skipped: true}).Err(); err == nil {
		t.Error("skipped result without error should still report failure")
	}
}

func TestExecutor_Success(t *testing.T) {
	x := NewExecutor[testEvent]()
	var got string

	res := x.Execute(context.Background(), testEvent{name: "a"}, newTestHandler(func(ctx context.Context, e testEvent) error {
		got = e.name
		return nil
	}))

	if !res.IsSuccess() {
		t.Fatalf("expected success, got %+v", res)
	}
	if got != "a" {
		t.Errorf("handler saw %q, want %q", got, "a")
	}
}

func TestExecutor_Error(t *testing.T) {
	x := NewExecutor[testEvent]()
	want := errors.New("failed")

	res := x.Execute(context.Background(), testEvent{}, newTestHandler(func(ctx context.Context, e testEvent) error {
		return want
	}))

	if !res.IsError() || !errors.Is(res.Error, want) {
		t.Errorf("expected error result, got %+v", res)
	}
}

func TestExecutor_RecoversPanic(t *testing.T) {
	var panicked any
	x := NewExecutor(WithPanicHandler(func(e testEvent, v any, stack []byte) {
		panicked = v
		if len(stack) == 0 {
			t.Error("expected a stack trace")
		}
	}))

	res := x.Execute(context.Background(), testEvent{}, newTestHandler(func(ctx context.Context, e testEvent) error {
		panic("oops")
	}))

	if !res.IsPanic() {
		t.Fatalf("expected panic result, got %+v", res)
	}
	if res.PanicValue != "oops" || panicked != "oops" {
		t.Errorf("panic value = %v / %v, want oops", res.PanicValue, panicked)
	}
	if len(res.PanicStack) == 0 {
		t.Error("expected PanicStack to be captured")
	}
}

func TestExecutor_PanicHandlerPanics(t *testing.T) {
	x := NewExecutor(WithPanicHandler(func(e testEvent, v any, stack []byte) {
		panic("handler of handler")
	}))

	res := x.Execute(context.Background(), testEvent{}, newTestHandler(func(ctx context.Context, e testEvent) error {
		panic("first")
	}))

	if !res.IsPanic() {
		t.Errorf("expected panic result, got %+v", res)
	}
}

func TestExecutor_CancelledContext(t *testing.T) {
	x := NewExecutor[testEvent]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	res := x.Execute(ctx, testEvent{}, newTestHandler(func(ctx context.Context, e testEvent) error {
		called = true
		return nil
	}))

	if called {
		t.Error("handler should not run with a cancelled context")
	}
	if !res.Skipped || !errors.Is(res.Error, context.Canceled) {
		t.Errorf("expected skipped result, got %+v", res)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	x := NewExecutor(WithTimeout[testEvent](20 * time.Millisecond))
	if x.Timeout() != 20*time.Millisecond {
		t.Fatalf("Timeout() = %v", x.Timeout())
	}

	res := x.Execute(context.Background(), testEvent{}, newTestHandler(func(ctx context.Context, e testEvent) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	if !errors.Is(res.Error, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %+v", res)
	}
	if res.Duration <= 0 {
		t.Error("expected duration to be recorded")
	}
}

func TestExecutor_ExecuteAll(t *testing.T) {
	x := NewExecutor[testEvent]()
	var order []int

	handlers := []Handler[testEvent]{
		newTestHandler(func(ctx context.Context, e testEvent) error { order = append(order, 1); return nil }),
		newTestHandler(func(ctx context.Context, e testEvent) error { order = append(order, 2); return errors.New("x") }),
		newTestHandler(func(ctx context.Context, e testEvent) error { order = append(order, 3); return nil }),
	}

	results := x.ExecuteAll(context.Background(), testEvent{}, handlers)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].IsSuccess() || !results[1].IsError() || !results[2].IsSuccess() {
		t.Errorf("unexpected results: %+v", results)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestExecutor_ExecuteAllStopsOnCancel(t *testing.T) {
	x := NewExecutor[testEvent]()
	ctx, cancel := context.WithCancel(context.Background())

	handlers := []Handler[testEvent]{
		newTestHandler(func(ctx context.Context, e testEvent) error { cancel(); return nil }),
		newTestHandler(func(ctx context.Context, e testEvent) error { t.Error("should be skipped"); return nil }),
	}

	results := x.ExecuteAll(ctx, testEvent{}, handlers)

	if !results[0].IsSuccess() {
		t.Errorf("first result = %+v, want success", results[0])
	}
	if !results[1].Skipped {
		t.Errorf("second result = %+v, want skipped", results[1])
	}
}
