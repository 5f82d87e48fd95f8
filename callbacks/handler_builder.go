package callbacks

import "context"

// HandlerBuilder 以函数方式构建回调处理器，未设置的时机会被自动跳过。
type HandlerBuilder struct {
	onStartFn     func(ctx context.Context, info *RunInfo, input CallbackInput) context.Context
	onEndFn       func(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context
	onErrorFn     func(ctx context.Context, info *RunInfo, err error) context.Context
	onStreamEndFn func(ctx context.Context, info *RunInfo, err error)
}

// NewHandlerBuilder 创建处理器构建器。
func NewHandlerBuilder() *HandlerBuilder {
	return &HandlerBuilder{}
}

func (hb *HandlerBuilder) OnStartFn(fn func(ctx context.Context, info *RunInfo, input CallbackInput) context.Context) *HandlerBuilder {
	hb.onStartFn = fn
	return hb
}

func (hb *HandlerBuilder) OnEndFn(fn func(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context) *HandlerBuilder {
	hb.onEndFn = fn
	return hb
}

func (hb *HandlerBuilder) OnErrorFn(fn func(ctx context.Context, info *RunInfo, err error) context.Context) *HandlerBuilder {
	hb.onErrorFn = fn
	return hb
}

func (hb *HandlerBuilder) OnStreamEndFn(fn func(ctx context.Context, info *RunInfo, err error)) *HandlerBuilder {
	hb.onStreamEndFn = fn
	return hb
}

// Build 返回处理器。
func (hb *HandlerBuilder) Build() Handler {
	return &handlerImpl{*hb}
}

type handlerImpl struct {
	HandlerBuilder
}

func (h *handlerImpl) OnStart(ctx context.Context, info *RunInfo, input CallbackInput) context.Context {
	return h.onStartFn(ctx, info, input)
}

func (h *handlerImpl) OnEnd(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context {
	return h.onEndFn(ctx, info, output)
}

func (h *handlerImpl) OnError(ctx context.Context, info *RunInfo, err error) context.Context {
	return h.onErrorFn(ctx, info, err)
}

func (h *handlerImpl) OnStreamEnd(ctx context.Context, info *RunInfo, err error) {
	h.onStreamEndFn(ctx, info, err)
}

// Needed 实现 TimingChecker。
func (h *handlerImpl) Needed(_ context.Context, _ *RunInfo, timing CallbackTiming) bool {
	switch timing {
	case TimingOnStart:
		return h.onStartFn != nil
	case TimingOnEnd:
		return h.onEndFn != nil
	case TimingOnError:
		return h.onErrorFn != nil
	case TimingOnStreamEnd:
		return h.onStreamEndFn != nil
	default:
		return false
	}
}
