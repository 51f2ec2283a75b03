package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wippyai/engine-bridge/engine/enginelocal"
	"github.com/wippyai/engine-bridge/errors"
)

func newTestRuntime(t *testing.T, cfg Config) (*Runtime, *enginelocal.Local) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	l := enginelocal.New()
	rt, err := Init(l, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt, l
}

// withContext runs fn under a call-kind frame, the way an entry point would.
func withContext(t *testing.T, rt *Runtime, fn func(cx *Context)) {
	t.Helper()
	cx, err := rt.enter(kindCall)
	require.NoError(t, err)
	fn(cx)
	require.NoError(t, rt.exit(cx))
}

func TestScope_CloseInvalidatesHandles(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{})
	withContext(t, rt, func(cx *Context) {
		s, err := cx.OpenScope()
		require.NoError(t, err)

		h, err := cx.Number(42)
		require.NoError(t, err)

		v, err := cx.NumberValue(h)
		require.NoError(t, err)
		require.Equal(t, 42.0, v)

		require.NoError(t, s.Close())

		_, err = cx.NumberValue(h)
		require.True(t, errors.HasKind(err, errors.KindHandleEscapedScope), "got %v", err)
	})
}

func TestScope_EscapeOutlivesChild(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{})
	withContext(t, rt, func(cx *Context) {
		s, err := cx.OpenScope()
		require.NoError(t, err)

		h, err := cx.String("survivor")
		require.NoError(t, err)

		out, err := s.Escape(h)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		got, err := cx.StringValue(out)
		require.NoError(t, err)
		require.Equal(t, "survivor", got)

		// The original handle died with its scope.
		_, err = cx.StringValue(h)
		require.True(t, errors.HasKind(err, errors.KindHandleEscapedScope))
	})
}

func TestScope_EscapeOnlyToParentOnce(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{})
	withContext(t, rt, func(cx *Context) {
		outer, err := cx.OpenScope()
		require.NoError(t, err)
		foreign, err := cx.Boolean(true)
		require.NoError(t, err)

		inner, err := cx.OpenScope()
		require.NoError(t, err)

		// Escaping a handle rooted elsewhere is misuse.
		_, err = inner.Escape(foreign)
		require.True(t, errors.HasKind(err, errors.KindScopeMisuse))

		h, err := cx.Number(7)
		require.NoError(t, err)
		_, err = inner.Escape(h)
		require.NoError(t, err)

		// Second escape of the same handle is misuse.
		_, err = inner.Escape(h)
		require.True(t, errors.HasKind(err, errors.KindScopeMisuse))

		require.NoError(t, inner.Close())
		require.NoError(t, outer.Close())
	})
}

func TestScope_CloseOrderEnforced(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{})
	withContext(t, rt, func(cx *Context) {
		outer, err := cx.OpenScope()
		require.NoError(t, err)
		inner, err := cx.OpenScope()
		require.NoError(t, err)

		err = outer.Close()
		require.True(t, errors.HasKind(err, errors.KindScopeMisuse), "got %v", err)

		require.NoError(t, inner.Close())
		require.NoError(t, outer.Close())

		err = outer.Close()
		require.True(t, errors.HasKind(err, errors.KindScopeMisuse))
	})
}

func TestScope_RootScopeCannotEscape(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{})
	withContext(t, rt, func(cx *Context) {
		h, err := cx.Number(1)
		require.NoError(t, err)
		_, err = cx.root.Escape(h)
		require.True(t, errors.HasKind(err, errors.KindScopeMisuse))
	})
}

func TestWithScope_AutoEscape(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{})
	withContext(t, rt, func(cx *Context) {
		h, err := cx.WithScope(func(s *Scope) (Handle, error) {
			return cx.String("escaped")
		})
		require.NoError(t, err)

		got, err := cx.StringValue(h)
		require.NoError(t, err)
		require.Equal(t, "escaped", got)
	})
}

func TestHandle_ZeroIsInvalid(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{})
	withContext(t, rt, func(cx *Context) {
		var h Handle
		require.True(t, h.IsZero())
		_, err := cx.NumberValue(h)
		require.Error(t, err)
	})
}
