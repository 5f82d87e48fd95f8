package callbacks

import "context"

type ctxManagerKey struct{}

// manager 保存当前上下文中生效的回调处理器。
type manager struct {
	handlers []Handler
}

// GlobalHandlers 全局回调处理器，在所有调用中生效，先于上下文中的处理器执行结束类回调。
var GlobalHandlers []Handler

func managerFromCtx(ctx context.Context) (*manager, bool) {
	m, ok := ctx.Value(ctxManagerKey{}).(*manager)
	return m, ok && m != nil
}

func ctxWithManager(ctx context.Context, m *manager) context.Context {
	return context.WithValue(ctx, ctxManagerKey{}, m)
}

// AppendHandlers 在上下文已有处理器之后追加处理器。
func AppendHandlers(ctx context.Context, handlers ...Handler) context.Context {
	if len(handlers) == 0 {
		return ctx
	}

	var existing []Handler
	if m, ok := managerFromCtx(ctx); ok {
		existing = m.handlers
	}

	hs := make([]Handler, 0, len(existing)+len(handlers))
	hs = append(hs, existing...)
	hs = append(hs, handlers...)

	return ctxWithManager(ctx, &manager{handlers: hs})
}

// Enabled 上下文或全局是否注册了任一处理器。
func Enabled(ctx context.Context) bool {
	if len(GlobalHandlers) > 0 {
		return true
	}
	m, ok := managerFromCtx(ctx)
	return ok && len(m.handlers) > 0
}

func handlersFor(ctx context.Context, info *RunInfo, timing CallbackTiming) []Handler {
	var local []Handler
	if m, ok := managerFromCtx(ctx); ok {
		local = m.handlers
	}

	hs := make([]Handler, 0, len(local)+len(GlobalHandlers))
	for _, h := range append(append([]Handler{}, GlobalHandlers...), local...) {
		if tc, ok := h.(TimingChecker); !ok || tc.Needed(ctx, info, timing) {
			hs = append(hs, h)
		}
	}

	return hs
}
