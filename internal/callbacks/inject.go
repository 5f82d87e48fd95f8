package callbacks

import "context"

// OnStart 逆序执行处理器的 OnStart，后注册的处理器先执行，与结束类回调形成栈序。
func OnStart(ctx context.Context, info *RunInfo, input CallbackInput) context.Context {
	hs := handlersFor(ctx, info, TimingOnStart)
	for i := len(hs) - 1; i >= 0; i-- {
		ctx = hs[i].OnStart(ctx, info, input)
	}

	return ctx
}

// OnEnd 顺序执行处理器的 OnEnd。
func OnEnd(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context {
	for _, h := range handlersFor(ctx, info, TimingOnEnd) {
		ctx = h.OnEnd(ctx, info, output)
	}

	return ctx
}

// OnError 顺序执行处理器的 OnError。
func OnError(ctx context.Context, info *RunInfo, err error) context.Context {
	for _, h := range handlersFor(ctx, info, TimingOnError) {
		ctx = h.OnError(ctx, info, err)
	}

	return ctx
}

// OnStreamEnd 顺序执行处理器的 OnStreamEnd。
func OnStreamEnd(ctx context.Context, info *RunInfo, err error) {
	for _, h := range handlersFor(ctx, info, TimingOnStreamEnd) {
		h.OnStreamEnd(ctx, info, err)
	}
}
