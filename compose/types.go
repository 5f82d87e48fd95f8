package compose

import (
	"context"

	"github.com/favbox/chainflow/components"
	"github.com/favbox/chainflow/internal/callbacks"
	"github.com/favbox/chainflow/schema"
)

// Invoke 同步执行：完整输入，完整输出。
type Invoke[I, O any] func(ctx context.Context, input I) (output O, err error)

// Stream 完整输入，流式输出。
type Stream[I, O any] func(ctx context.Context, input I) (output *schema.StreamReader[O], err error)

// Collect 流式输入，完整输出。
type Collect[I, O any] func(ctx context.Context, input *schema.StreamReader[I]) (output O, err error)

// Transform 流式输入，流式输出。
type Transform[I, O any] func(ctx context.Context, input *schema.StreamReader[I]) (output *schema.StreamReader[O], err error)

const (
	// ComponentOfLambda 用户自定义函数阶段。
	ComponentOfLambda components.Component = "Lambda"
	// ComponentOfPipeline 流水线整体，出现在整条流水线的回调中。
	ComponentOfPipeline components.Component = "Pipeline"
)

// Phase 单次调用所处的阶段：Idle -> Rendering -> Calling -> Parsing -> Done，任意阶段出错进入 Failed。
type Phase = callbacks.Phase

const (
	PhaseIdle      = callbacks.PhaseIdle
	PhaseRendering = callbacks.PhaseRendering
	PhaseCalling   = callbacks.PhaseCalling
	PhaseParsing   = callbacks.PhaseParsing
	PhaseDone      = callbacks.PhaseDone
	PhaseFailed    = callbacks.PhaseFailed
)

// phaseOf 返回阶段执行时所处的调用阶段。自定义函数沿用前一阶段，位于开头时视为 Rendering。
func phaseOf(component components.Component, prev Phase) Phase {
	switch component {
	case components.ComponentOfPrompt:
		return PhaseRendering
	case components.ComponentOfChatModel:
		return PhaseCalling
	case components.ComponentOfParser:
		return PhaseParsing
	default:
		if prev == PhaseIdle {
			return PhaseRendering
		}
		return prev
	}
}
