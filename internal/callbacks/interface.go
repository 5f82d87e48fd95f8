package callbacks

import (
	"context"

	"github.com/favbox/chainflow/components"
)

// Phase 单次调用所处的阶段。
// Idle -> Rendering -> Calling -> Parsing -> Done，任意阶段出错进入 Failed。
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRendering Phase = "rendering"
	PhaseCalling   Phase = "calling"
	PhaseParsing   Phase = "parsing"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// RunInfo 回调运行信息。
type RunInfo struct {
	// Name 阶段名称，用于展示，不保证唯一。
	Name string
	// Type 组件的实现类型，如 "Groq"、"StrOutputParser"。
	Type string
	// Component 组件分类。
	Component components.Component
	// Position 阶段在展平后的流水线中的下标，流水线整体为 -1。
	Position int
	// Phase 阶段执行时所处的调用阶段；流水线整体结束时为 Done 或 Failed。
	Phase Phase
}

// CallbackInput 组件传递给回调处理器的输入。
type CallbackInput any

// CallbackOutput 组件传递给回调处理器的输出。
type CallbackOutput any

// Handler 回调处理器。
type Handler interface {
	OnStart(ctx context.Context, info *RunInfo, input CallbackInput) context.Context
	OnEnd(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context
	OnError(ctx context.Context, info *RunInfo, err error) context.Context

	// OnStreamEnd 阶段的输出流结束时触发：读到 EOF 时 err 为 nil，
	// 中途失败时为该错误，被消费方提前关闭时为 schema.ErrStreamClosed。
	// ctx 为 OnStart 返回的上下文。
	OnStreamEnd(ctx context.Context, info *RunInfo, err error)
}

// CallbackTiming 回调时机。
type CallbackTiming uint8

const (
	TimingOnStart CallbackTiming = iota
	TimingOnEnd
	TimingOnError
	TimingOnStreamEnd
)

// TimingChecker 处理器可选实现，用于跳过不关心的时机。
type TimingChecker interface {
	Needed(ctx context.Context, info *RunInfo, timing CallbackTiming) bool
}
