package bridge

import (
	stderrors "errors"

	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

// Error translation between the native and engine sides. These helpers never
// throw; they return error-kind results and leave policy (propagate, log,
// surface) to the caller.

// toEngineValue constructs an engine exception object from a native error,
// preserving the message and, for structured errors, a kind/phase payload.
func (rt *Runtime) toEngineValue(err error) (engine.Value, error) {
	if err == nil {
		return rt.binding.NewError("unknown native failure")
	}

	v, cerr := rt.binding.NewError(err.Error())
	if cerr != nil {
		return 0, cerr
	}

	var e *errors.Error
	if !stderrors.As(err, &e) {
		return v, nil
	}
	if kv, kerr := rt.binding.String(string(e.Kind)); kerr == nil {
		_ = rt.binding.Set(v, "code", kv)
	}
	if pv, perr := rt.binding.String(string(e.Phase)); perr == nil {
		_ = rt.binding.Set(v, "phase", pv)
	}
	return v, nil
}

// exceptionMessage extracts a human-readable message from an engine
// exception value without disturbing it.
func (rt *Runtime) exceptionMessage(v engine.Value) string {
	t, err := rt.binding.TypeOf(v)
	if err != nil {
		return "<invalid exception value>"
	}
	switch t {
	case engine.TypeError:
		mv, err := rt.binding.Get(v, "message")
		if err != nil {
			return "<error>"
		}
		if s, err := rt.binding.StringValue(mv); err == nil {
			return s
		}
		return "<error>"
	case engine.TypeString:
		if s, err := rt.binding.StringValue(v); err == nil {
			return s
		}
	}
	return "<" + t.String() + ">"
}

// pendingMessage peeks at the pending exception's message, if any.
func (rt *Runtime) pendingMessage() string {
	v, ok := rt.binding.Pending()
	if !ok {
		return "callee raised"
	}
	return rt.exceptionMessage(v)
}
