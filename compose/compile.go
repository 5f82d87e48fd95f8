package compose

import (
	"context"
	"reflect"

	"github.com/favbox/chainflow/internal/callbacks"
	"github.com/favbox/chainflow/internal/generic"
	"github.com/favbox/chainflow/schema"
)

// Compile 为流水线绑定输入输出类型。
//
// I 必须能作为第一个阶段的输入，最后一个阶段的输出必须能赋值给 O；
// 空流水线要求 I 能赋值给 O。不满足时返回 *CompositionError。
//
//	r, err := compose.Compile[map[string]any, string](p)
//	out, err := r.Invoke(ctx, map[string]any{"topic": "caching"})
func Compile[I, O any](p *Pipeline) (Runnable[I, O], error) {
	in, out := generic.TypeOf[I](), generic.TypeOf[O]()

	if len(p.stages) == 0 {
		if checkAssignable(in, out) == assignableNo {
			return nil, &CompositionError{Position: 0, From: in, To: out}
		}
		return &runnable[I, O]{p: p}, nil
	}

	if checkAssignable(in, p.stages[0].inputType) == assignableNo {
		return nil, &CompositionError{Position: 0, From: in, To: p.stages[0].inputType}
	}
	last := p.stages[len(p.stages)-1].outputType
	if checkAssignable(last, out) == assignableNo {
		return nil, &CompositionError{Position: len(p.stages), From: last, To: out}
	}

	return &runnable[I, O]{p: p}, nil
}

type runnable[I, O any] struct {
	p *Pipeline
}

func (r *runnable[I, O]) prepare(ctx context.Context, opts []Option) (context.Context, *options) {
	o := getOptions(opts)
	return callbacks.AppendHandlers(ctx, o.handlers...), o
}

func (r *runnable[I, O]) convertOutput(v any) (O, error) {
	out, ok := v.(O)
	if !ok && v != nil {
		return out, &CompositionError{Position: len(r.p.stages), From: reflect.TypeOf(v), To: generic.TypeOf[O]()}
	}
	return out, nil
}

func (r *runnable[I, O]) Invoke(ctx context.Context, input I, opts ...Option) (output O, err error) {
	ctx, _ = r.prepare(ctx, opts)

	v, err := r.p.invoke(ctx, input)
	if err != nil {
		return output, err
	}

	return r.convertOutput(v)
}

func (r *runnable[I, O]) Batch(ctx context.Context, inputs []I, opts ...Option) []BatchResult[O] {
	ctx, o := r.prepare(ctx, opts)

	ins := make([]any, len(inputs))
	for idx, in := range inputs {
		ins[idx] = in
	}

	vals, errs := r.p.batch(ctx, ins, o)

	results := make([]BatchResult[O], len(inputs))
	for idx := range results {
		if errs[idx] != nil {
			results[idx].Err = errs[idx]
			continue
		}
		results[idx].Output, results[idx].Err = r.convertOutput(vals[idx])
	}

	return results
}

func (r *runnable[I, O]) Stream(ctx context.Context, input I, opts ...Option) (*schema.StreamReader[O], error) {
	ctx, _ = r.prepare(ctx, opts)

	sr, err := r.p.stream(ctx, input)
	if err != nil {
		return nil, err
	}

	return schema.StreamReaderWithConvert(sr, r.convertOutput), nil
}

func (r *runnable[I, O]) Collect(ctx context.Context, input *schema.StreamReader[I], opts ...Option) (output O, err error) {
	sr, err := r.Transform(ctx, input, opts...)
	if err != nil {
		return output, err
	}

	return concatStreamReader(sr)
}

func (r *runnable[I, O]) Transform(ctx context.Context, input *schema.StreamReader[I], opts ...Option) (*schema.StreamReader[O], error) {
	ctx, _ = r.prepare(ctx, opts)

	sr, err := r.p.transform(ctx, packStreamReader(input))
	if err != nil {
		return nil, err
	}

	return schema.StreamReaderWithConvert(sr, r.convertOutput), nil
}
