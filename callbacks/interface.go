package callbacks

import (
	"context"

	"github.com/favbox/chainflow/internal/callbacks"
)

// RunInfo 回调运行时信息。
type RunInfo = callbacks.RunInfo

// Phase 单次调用所处的阶段。
type Phase = callbacks.Phase

// CallbackInput 阶段传给处理器的输入，具体类型即阶段的输入类型。
type CallbackInput = callbacks.CallbackInput

// CallbackOutput 阶段传给处理器的输出，具体类型即阶段的输出类型。
type CallbackOutput = callbacks.CallbackOutput

// Handler 回调处理器。
type Handler = callbacks.Handler

// CallbackTiming 回调时机。
type CallbackTiming = callbacks.CallbackTiming

const (
	TimingOnStart     = callbacks.TimingOnStart
	TimingOnEnd       = callbacks.TimingOnEnd
	TimingOnError     = callbacks.TimingOnError
	TimingOnStreamEnd = callbacks.TimingOnStreamEnd
)

// TimingChecker 处理器可选实现，返回 false 的时机不会被调用。
type TimingChecker = callbacks.TimingChecker

// AppendGlobalHandlers 追加全局回调处理器。
// 非并发安全，只应在进程初始化阶段调用。
func AppendGlobalHandlers(handlers ...Handler) {
	callbacks.GlobalHandlers = append(callbacks.GlobalHandlers, handlers...)
}

// WithHandlers 返回附带处理器的上下文，之后以该上下文发起的调用都会触发这些处理器。
func WithHandlers(ctx context.Context, handlers ...Handler) context.Context {
	return callbacks.AppendHandlers(ctx, handlers...)
}
