package compose

/*
 * execute.go - 流水线执行
 *
 *   - invoke：逐个阶段同步执行
 *   - stream：最长的原生流式后缀作为流式尾部，之前的阶段同步执行，
 *     尾部第一个阶段产生数据块，其余尾部阶段逐块转换
 *   - transform：输入为流，每个阶段调用其 Transform（非原生阶段先拼接输入）
 *
 * 每个阶段的执行都会触发回调、恢复 panic，并把错误包装为带下标的 StageError。
 * 流的转换在 Recv 内完成，不做预读。
 */

import (
	"context"
	"errors"
	"reflect"

	"github.com/favbox/chainflow/internal/callbacks"
	"github.com/favbox/chainflow/internal/safe"
	"github.com/favbox/chainflow/schema"
)

func (p *Pipeline) stageInfo(pos int) *callbacks.RunInfo {
	st := p.stages[pos]
	return &callbacks.RunInfo{
		Name:      st.meta.name,
		Type:      st.meta.implType,
		Component: st.meta.component,
		Position:  pos,
		Phase:     p.phases[pos],
	}
}

func pipelineInfo(phase Phase) *callbacks.RunInfo {
	return &callbacks.RunInfo{
		Name:      string(ComponentOfPipeline),
		Type:      string(ComponentOfPipeline),
		Component: ComponentOfPipeline,
		Position:  -1,
		Phase:     phase,
	}
}

func (p *Pipeline) onStart(ctx context.Context, input any) context.Context {
	if !callbacks.Enabled(ctx) {
		return ctx
	}
	return callbacks.OnStart(ctx, pipelineInfo(PhaseIdle), input)
}

func (p *Pipeline) onFinish(ctx context.Context, output any, err error) {
	if !callbacks.Enabled(ctx) {
		return
	}
	if err != nil {
		callbacks.OnError(ctx, pipelineInfo(PhaseFailed), err)
		return
	}
	callbacks.OnEnd(ctx, pipelineInfo(PhaseDone), output)
}

func (p *Pipeline) onStreamFinish(ctx context.Context, err error) {
	if !callbacks.Enabled(ctx) {
		return
	}
	phase := PhaseDone
	if err != nil && !errors.Is(err, schema.ErrStreamClosed) {
		phase = PhaseFailed
	}
	callbacks.OnStreamEnd(ctx, pipelineInfo(phase), err)
}

func (p *Pipeline) checkInput(pos int, v any) error {
	st := p.stages[pos]
	if !valueAssignable(v, st.inputType) {
		return &CompositionError{Position: pos, From: reflect.TypeOf(v), To: st.inputType}
	}
	return nil
}

// runStage 同步执行第 pos 个阶段。
func (p *Pipeline) runStage(ctx context.Context, pos int, in any) (out any, err error) {
	if err = p.checkInput(pos, in); err != nil {
		return nil, err
	}

	st := p.stages[pos]
	cb := callbacks.Enabled(ctx)
	var info *callbacks.RunInfo
	if cb {
		info = p.stageInfo(pos)
		ctx = callbacks.OnStart(ctx, info, in)
	}

	out, err = safeInvoke(ctx, st.i, in)
	if err != nil {
		err = wrapStageError(pos, st, err)
		if cb {
			callbacks.OnError(ctx, info, err)
		}
		return nil, err
	}

	if cb {
		callbacks.OnEnd(ctx, info, out)
	}
	return out, nil
}

func safeInvoke(ctx context.Context, i invoke, in any) (out any, err error) {
	defer safe.Recover(&err)
	return i(ctx, in)
}

// invokeRange 同步执行 [from, to) 区间的阶段。
func (p *Pipeline) invokeRange(ctx context.Context, from, to int, in any) (any, error) {
	v := in
	for pos := from; pos < to; pos++ {
		out, err := p.runStage(ctx, pos, v)
		if err != nil {
			return nil, err
		}
		v = out
	}

	return v, nil
}

func (p *Pipeline) invoke(ctx context.Context, in any) (any, error) {
	ctx = p.onStart(ctx, in)

	out, err := p.invokeRange(ctx, 0, len(p.stages), in)
	p.onFinish(ctx, out, err)

	return out, err
}

// streamTail 返回流式尾部的起始下标：从该下标到末尾的阶段都原生支持流式。
// 没有这样的阶段时返回阶段数。
func (p *Pipeline) streamTail() int {
	tail := len(p.stages)
	for tail > 0 && p.stages[tail-1].streamNative {
		tail--
	}
	return tail
}

func (p *Pipeline) stream(ctx context.Context, in any) (*schema.StreamReader[any], error) {
	ctx = p.onStart(ctx, in)

	tail := p.streamTail()
	v, err := p.invokeRange(ctx, 0, tail, in)
	if err != nil {
		p.onFinish(ctx, nil, err)
		return nil, err
	}

	if tail == len(p.stages) {
		return p.finishStream(ctx, schema.StreamReaderFromArray([]any{v})), nil
	}

	sr, err := p.streamStage(ctx, tail, v)
	if err != nil {
		p.onFinish(ctx, nil, err)
		return nil, err
	}

	for pos := tail + 1; pos < len(p.stages); pos++ {
		sr, err = p.transformStage(ctx, pos, sr)
		if err != nil {
			p.onFinish(ctx, nil, err)
			return nil, err
		}
	}

	return p.finishStream(ctx, sr), nil
}

func (p *Pipeline) transform(ctx context.Context, sr *schema.StreamReader[any]) (*schema.StreamReader[any], error) {
	ctx = p.onStart(ctx, nil)

	var err error
	for pos := range p.stages {
		sr, err = p.transformStage(ctx, pos, sr)
		if err != nil {
			p.onFinish(ctx, nil, err)
			return nil, err
		}
	}

	return p.finishStream(ctx, sr), nil
}

func (p *Pipeline) finishStream(ctx context.Context, sr *schema.StreamReader[any]) *schema.StreamReader[any] {
	if !callbacks.Enabled(ctx) {
		return sr
	}
	return schema.StreamReaderWithConvert(sr, passThrough, schema.WithOnDone(func(err error) {
		p.onStreamFinish(ctx, err)
	}))
}

func passThrough(a any) (any, error) {
	return a, nil
}

// streamStage 以完整输入调用第 pos 个阶段的 Stream。
func (p *Pipeline) streamStage(ctx context.Context, pos int, in any) (*schema.StreamReader[any], error) {
	if err := p.checkInput(pos, in); err != nil {
		return nil, err
	}

	st := p.stages[pos]
	return p.wrapStreamCall(ctx, pos, in, func(ctx context.Context) (*schema.StreamReader[any], error) {
		return st.s(ctx, in)
	})
}

// transformStage 以流输入调用第 pos 个阶段的 Transform，输入流中的每个值在被读取时检查类型。
func (p *Pipeline) transformStage(ctx context.Context, pos int, in *schema.StreamReader[any]) (*schema.StreamReader[any], error) {
	st := p.stages[pos]
	checked := schema.StreamReaderWithConvert(in, func(v any) (any, error) {
		if err := p.checkInput(pos, v); err != nil {
			return nil, err
		}
		return v, nil
	})

	// 流式输入在回调中不可见，读取它会改变下游看到的数据
	return p.wrapStreamCall(ctx, pos, nil, func(ctx context.Context) (*schema.StreamReader[any], error) {
		return st.t(ctx, checked)
	})
}

func (p *Pipeline) wrapStreamCall(ctx context.Context, pos int, in any,
	call func(ctx context.Context) (*schema.StreamReader[any], error)) (*schema.StreamReader[any], error) {

	st := p.stages[pos]
	cb := callbacks.Enabled(ctx)
	var info *callbacks.RunInfo
	if cb {
		info = p.stageInfo(pos)
		ctx = callbacks.OnStart(ctx, info, in)
	}

	out, err := safeStream(ctx, call)
	if err != nil {
		err = wrapStageError(pos, st, err)
		if cb {
			callbacks.OnError(ctx, info, err)
		}
		return nil, err
	}

	opts := []schema.ConvertOption{
		schema.WithErrWrapper(func(err error) error {
			return wrapStageError(pos, st, err)
		}),
	}
	if cb {
		opts = append(opts, schema.WithOnDone(func(err error) {
			callbacks.OnStreamEnd(ctx, info, err)
		}))
	}

	return schema.StreamReaderWithConvert(out, passThrough, opts...), nil
}

func safeStream(ctx context.Context, call func(ctx context.Context) (*schema.StreamReader[any], error)) (sr *schema.StreamReader[any], err error) {
	defer safe.Recover(&err)
	return call(ctx)
}
