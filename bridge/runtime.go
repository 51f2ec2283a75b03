package bridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

// EntryFunc is a native entry point. It runs under a CallContext on the
// engine's execution slot and returns the frame's result handle. A non-nil
// error (or a handle left behind by Throw) becomes an engine exception.
type EntryFunc func(*CallContext) (Handle, error)

// Runtime is the process-wide handle to one loaded engine instance. Exactly
// one Runtime exists per engine; its lifecycle is explicit — Init at module
// load, Close at unload — rather than ambient global state.
//
// The Runtime owns the single-execution-slot discipline: it mints every
// Context, denies a second one while the active one is not suspended in an
// engine call, and confines all heap access to code holding a Context.
type Runtime struct {
	binding engine.Binding
	tier    engine.Tier
	tasks   bool
	log     *zap.Logger

	stateMu   sync.Mutex
	stateCond *sync.Cond // signaled when the execution slot frees up
	stack     []*Context // active context stack, innermost last
	closed    bool
	locals    map[uint64]any
}

// Init validates the binding against the configuration and returns the
// runtime. Capability mismatches fail here, before any channel or task is
// constructed: a configured tier above what the binding provides, or an
// enabled task subsystem on a binding without thread-safe dispatch, is an
// unsupported_capability error.
func Init(b engine.Binding, cfg Config) (*Runtime, error) {
	if b == nil {
		return nil, errors.InvalidInput(errors.PhaseInit, "nil engine binding")
	}

	probed := engine.TierOf(b)
	tier := probed
	if cfg.Tier != engine.TierUnknown {
		if cfg.Tier > probed {
			return nil, errors.Unsupported("configured tier", probed.String(), cfg.Tier.String())
		}
		b = engine.Restrict(b, cfg.Tier)
		tier = cfg.Tier
	}

	if cfg.Tasks {
		if err := engine.Require(b, engine.TierDispatch, "task subsystem"); err != nil {
			return nil, err
		}
	}

	log := cfg.Logger
	if log == nil {
		log = engine.Logger()
	}

	log.Debug("runtime initialized",
		zap.String("tier", tier.String()),
		zap.Bool("tasks", cfg.Tasks))

	rt := &Runtime{
		binding: b,
		tier:    tier,
		tasks:   cfg.Tasks,
		log:     log,
		locals:  make(map[uint64]any),
	}
	rt.stateCond = sync.NewCond(&rt.stateMu)
	return rt, nil
}

// Tier returns the effective capability tier.
func (rt *Runtime) Tier() engine.Tier { return rt.tier }

// Close tears the runtime down and closes the engine binding. It fails if a
// context is still active.
func (rt *Runtime) Close() error {
	rt.stateMu.Lock()
	if rt.closed {
		rt.stateMu.Unlock()
		return nil
	}
	if len(rt.stack) > 0 {
		rt.stateMu.Unlock()
		return errors.InvalidInput(errors.PhaseInit, "close with a context still active")
	}
	rt.closed = true
	rt.locals = nil
	rt.stateCond.Broadcast()
	rt.stateMu.Unlock()

	return rt.binding.Close()
}

// enter mints a context for a new frame. A frame may open while no context
// is active, or while the active one is suspended in an engine call (native
// code calling back into the engine and out again). Any other call or module
// frame is a reentrancy violation. Task and finalize frames originate from
// the engine's event loop; they never nest inside a frame and instead wait
// for the stack to empty.
func (rt *Runtime) enter(kind contextKind) (*Context, error) {
	rt.stateMu.Lock()
	if kind == kindTask || kind == kindFinalize {
		for !rt.closed && len(rt.stack) > 0 {
			rt.stateCond.Wait()
		}
	}
	if rt.closed {
		rt.stateMu.Unlock()
		return nil, errors.Closed(errors.PhaseCall, "runtime")
	}
	if n := len(rt.stack); n > 0 && !rt.stack[n-1].suspended {
		rt.stateMu.Unlock()
		return nil, errors.Reentrancy("context requested while a " +
			rt.stack[len(rt.stack)-1].kind.String() + " context is active")
	}

	cx := &Context{rt: rt, kind: kind}
	rt.stack = append(rt.stack, cx)
	rt.stateMu.Unlock()

	mark, err := rt.binding.OpenMark()
	if err != nil {
		rt.popContext(cx)
		return nil, errors.Wrap(errors.PhaseCall, errors.KindScopeMisuse, err, "open frame mark")
	}
	cx.root = &Scope{cx: cx, mark: mark}
	cx.scope = cx.root
	return cx, nil
}

// exit closes the frame's root scope and retires the context. Handles from
// the frame are invalid afterwards.
func (rt *Runtime) exit(cx *Context) error {
	var err error
	if cx.root != nil && !cx.root.closed {
		err = cx.root.Close()
	}
	cx.done = true
	rt.popContext(cx)
	return err
}

func (rt *Runtime) popContext(cx *Context) {
	rt.stateMu.Lock()
	defer rt.stateMu.Unlock()
	if n := len(rt.stack); n > 0 && rt.stack[n-1] == cx {
		rt.stack = rt.stack[:n-1]
	}
	rt.stateCond.Broadcast()
}

// Module runs module initialization under a ModuleContext and returns the
// engine-owned exports object, rooted for the engine lifetime.
func (rt *Runtime) Module(init func(*ModuleContext) error) (engine.Value, error) {
	base, err := rt.enter(kindModule)
	if err != nil {
		return 0, err
	}

	exports, err := base.NewObject()
	if err != nil {
		rt.exit(base)
		return 0, err
	}
	mcx := &ModuleContext{Context: base, exports: exports}

	initErr := init(mcx)
	if initErr == nil && base.pending {
		initErr = errors.PendingException("module init returned")
	}

	var out engine.Value
	if initErr == nil {
		v, rerr := exports.resolve()
		if rerr == nil {
			// The exports object outlives every frame.
			out, rerr = rt.binding.Escape(base.root.mark, v)
		}
		initErr = rerr
	}

	if exitErr := rt.exit(base); exitErr != nil && initErr == nil {
		initErr = exitErr
	}
	if initErr != nil {
		return 0, errors.Wrap(errors.PhaseInit, errors.KindInvalidInput, initErr, "module init")
	}
	return out, nil
}

// defineFunc wraps an entry point as an engine function value. Invocation
// mints a CallContext, roots the receiver and arguments in the frame's root
// scope, and translates the entry's error result into a pending exception.
func (rt *Runtime) defineFunc(name string, fn EntryFunc) (engine.Value, error) {
	if fn == nil {
		return 0, errors.InvalidInput(errors.PhaseCall, "nil entry point")
	}
	return rt.binding.NewFunction(name, func(this engine.Value, args []engine.Value) (engine.Value, error) {
		return rt.invoke(name, this, args, fn)
	})
}

func (rt *Runtime) invoke(name string, this engine.Value, args []engine.Value, fn EntryFunc) (engine.Value, error) {
	base, err := rt.enter(kindCall)
	if err != nil {
		rt.log.Error("entry denied", zap.String("entry", name), logErr(err))
		return 0, err
	}

	cx := &CallContext{Context: base}
	if cx.undef, err = base.Undefined(); err == nil {
		err = cx.rootCallbackInfo(this, args)
	}
	if err != nil {
		rt.exit(base)
		return 0, err
	}

	h, entryErr := fn(cx)
	if entryErr == nil && base.pending {
		entryErr = errors.PendingException("entry returned")
	}

	var out engine.Value
	if entryErr == nil && !h.IsZero() {
		out, entryErr = h.resolve()
	}
	if entryErr != nil && !base.pending {
		// The native failure becomes the frame's engine exception.
		if v, terr := rt.toEngineValue(entryErr); terr == nil {
			if rt.binding.Throw(v) == nil {
				base.pending = true
			}
		}
	}

	if exitErr := rt.exit(base); exitErr != nil {
		rt.log.Warn("frame teardown failed", zap.String("entry", name), logErr(exitErr))
	}
	if entryErr != nil {
		return 0, entryErr
	}
	return out, nil
}

func (cx *CallContext) rootCallbackInfo(this engine.Value, args []engine.Value) error {
	rt := cx.rt
	if this == 0 {
		cx.this = cx.undef
	} else {
		t, err := rt.binding.TypeOf(this)
		if err != nil {
			return err
		}
		cx.this = cx.root.root(this, t)
	}
	cx.args = make([]Handle, len(args))
	for i, a := range args {
		t, err := rt.binding.TypeOf(a)
		if err != nil {
			return err
		}
		cx.args[i] = cx.root.root(a, t)
	}
	return nil
}

// runDispatched executes one channel closure under a fresh TaskContext. An
// error result, or an exception left pending, is reported as uncaught and
// never crosses back into the queue.
func (rt *Runtime) runDispatched(fn func(*TaskContext) error) {
	base, err := rt.enter(kindTask)
	if err != nil {
		rt.log.Error("dispatched closure denied", logErr(err))
		return
	}

	cx := &TaskContext{Context: base}
	if err := fn(cx); err != nil && !base.pending {
		if v, terr := rt.toEngineValue(err); terr == nil {
			if rt.binding.Throw(v) == nil {
				base.pending = true
			}
		}
	}
	if base.pending {
		if v, ok := rt.binding.ClearPending(); ok {
			rt.reportUncaught(v)
		}
		base.pending = false
	}

	if exitErr := rt.exit(base); exitErr != nil {
		rt.log.Warn("dispatch teardown failed", logErr(exitErr))
	}
}

// runFinalize executes a finalizer under a FinalizeContext. Finalizers have
// no way to throw and always run exactly once: during engine teardown, when
// a frame can no longer be minted, the finalizer runs with heap access
// denied so it can still release native resources.
func (rt *Runtime) runFinalize(fn func(*FinalizeContext)) {
	base, err := rt.enter(kindFinalize)
	if err != nil {
		rt.log.Debug("finalizer running without heap access", logErr(err))
		fn(&FinalizeContext{Context: &Context{rt: rt, kind: kindFinalize, done: true}})
		return
	}
	fn(&FinalizeContext{Context: base})
	if exitErr := rt.exit(base); exitErr != nil {
		rt.log.Warn("finalizer teardown failed", logErr(exitErr))
	}
}

func (rt *Runtime) reportUncaught(v engine.Value) {
	rt.log.Warn("uncaught exception from dispatched closure",
		zap.String("message", rt.exceptionMessage(v)))
	if r, ok := rt.binding.(engine.Reporter); ok {
		r.ReportUncaught(v)
	}
}

func logErr(err error) zap.Field { return zap.Error(err) }
