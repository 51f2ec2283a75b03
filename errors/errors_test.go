package errors

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseScope,
				Kind:   KindHandleEscapedScope,
				Detail: "handle used after scope close",
			},
			contains: []string{"[scope]", "handle_escaped_scope", "handle used after scope close"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDispatch,
				Kind:  KindChannelClosed,
			},
			contains: []string{"[dispatch]", "channel_closed"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseTask,
				Kind:   KindTaskAborted,
				Detail: "work aborted",
				Cause:  errors.New("underlying failure"),
			},
			contains: []string{"[task]", "task_aborted", "work aborted", "caused by", "underlying failure"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseDispatch, KindChannelClosed, cause, "send failed")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestError_Is(t *testing.T) {
	a := New(PhaseScope, KindHandleEscapedScope, "one")
	b := New(PhaseScope, KindHandleEscapedScope, "two")
	c := New(PhaseHeap, KindHandleEscapedScope, "three")

	if !errors.Is(a, b) {
		t.Error("errors with matching phase and kind should match")
	}
	if errors.Is(a, c) {
		t.Error("errors with different phase should not match")
	}
}

func TestHasKind(t *testing.T) {
	inner := DeferredSettled("abc")
	outer := Wrap(PhaseDispatch, KindChannelClosed, inner, "send")

	if !HasKind(outer, KindChannelClosed) {
		t.Error("HasKind should match the outer kind")
	}
	if !HasKind(outer, KindDeferredSettled) {
		t.Error("HasKind should match a wrapped kind")
	}
	if HasKind(outer, KindTimedOut) {
		t.Error("HasKind should not match an absent kind")
	}
	if HasKind(nil, KindTimedOut) {
		t.Error("HasKind on nil should be false")
	}
	if HasKind(errors.New("plain"), KindTimedOut) {
		t.Error("HasKind on a plain error should be false")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"HandleEscaped", HandleEscaped(PhaseHeap, "get"), PhaseHeap, KindHandleEscapedScope},
		{"Reentrancy", Reentrancy("nested"), PhaseCall, KindContextReentrancy},
		{"ChannelClosed", ChannelClosed("send"), PhaseDispatch, KindChannelClosed},
		{"QueueFull", QueueFull(8), PhaseDispatch, KindQueueFull},
		{"DeferredSettled", DeferredSettled("id"), PhaseSettle, KindDeferredSettled},
		{"PendingException", PendingException("set"), PhaseHeap, KindPendingException},
		{"Unsupported", Unsupported("promises", "core", "promises"), PhaseInit, KindUnsupported},
		{"EngineException", EngineException("boom"), PhaseThrow, KindEngineException},
		{"ScopeMisuse", ScopeMisuse("escape twice"), PhaseScope, KindScopeMisuse},
		{"InvalidValue", InvalidValue("stale"), PhaseEngine, KindInvalidValue},
		{"InvalidInput", InvalidInput(PhaseConfig, "bad tier"), PhaseConfig, KindInvalidInput},
		{"NotInitialized", NotInitialized("runtime"), PhaseInit, KindNotInitialized},
		{"TimedOut", TimedOut(time.Second), PhaseDispatch, KindTimedOut},
		{"Closed", Closed(PhaseEngine, "engine"), PhaseEngine, KindClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("phase = %q, want %q", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("message should not be empty")
			}
		})
	}
}

func TestTaskAborted(t *testing.T) {
	err := TaskAborted("index out of range", []byte("goroutine 7 [running]:\nwork()"))

	if err.Kind != KindTaskAborted {
		t.Fatalf("kind = %q, want %q", err.Kind, KindTaskAborted)
	}
	if !strings.Contains(err.Detail, "index out of range") {
		t.Errorf("detail %q should carry the recovered value", err.Detail)
	}
	if !strings.Contains(err.Detail, "goroutine 7") {
		t.Errorf("detail %q should carry the stack", err.Detail)
	}
	if err.Value != "index out of range" {
		t.Errorf("Value = %v, want recovered value", err.Value)
	}
}
