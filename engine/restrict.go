package engine

// Restrict returns a view of b capped at the given capability tier.
// Capabilities above the cap become invisible to TierOf and to type
// assertions, so a runtime configured against the restricted binding fails
// fast instead of reaching operations the deployment target lacks.
//
// Restricting to a tier the binding does not reach returns b unchanged.
func Restrict(b Binding, cap Tier) Binding {
	if b == nil || cap == TierUnknown || TierOf(b) <= cap {
		return b
	}
	switch cap {
	case TierCore:
		return coreBinding{b}
	case TierDispatch:
		return dispatchBinding{b, b.(Dispatcher)}
	case TierPromises:
		return promiseBinding{b, b.(Dispatcher), b.(PromiseBinding)}
	default:
		return b
	}
}

// The wrappers embed interfaces rather than the concrete binding so their
// method sets carry exactly the capabilities of the named tier.

type coreBinding struct {
	Binding
}

type dispatchBinding struct {
	Binding
	Dispatcher
}

type promiseBinding struct {
	Binding
	Dispatcher
	PromiseBinding
}
