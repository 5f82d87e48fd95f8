package compose

/*
 * runnable.go - 可执行对象接口与阶段包装器
 *
 * 核心组件：
 *   - Runnable: 编译后的流水线，对外暴露五种执行方式
 *   - composableRunnable: 类型擦除后的阶段，流水线统一调度的单元
 *   - runnablePacker: 由阶段原生实现的部分方法推导出其余方法
 *
 * 数据流模式：
 *   - ping => pong（Invoke）
 *   - ping => stream output（Stream）
 *   - stream input => pong（Collect）
 *   - stream input => stream output（Transform）
 */

import (
	"context"
	"reflect"

	"github.com/favbox/chainflow/components"
	"github.com/favbox/chainflow/internal/generic"
	"github.com/favbox/chainflow/schema"
)

// Runnable 编译后的流水线。
//
// 同一个 Runnable 可被多个 goroutine 并发调用，每次调用的中间数据互不共享。
type Runnable[I, O any] interface {
	// Invoke 依次执行全部阶段，任一阶段失败即返回 *StageError，不返回部分结果。
	Invoke(ctx context.Context, input I, opts ...Option) (output O, err error)
	// Batch 对每个输入独立执行，结果与输入一一对应、顺序一致。
	// 单个输入失败不会中止其余输入，失败原因记录在对应的 BatchResult.Err 中。
	Batch(ctx context.Context, inputs []I, opts ...Option) []BatchResult[O]
	// Stream 以流的形式返回输出，调用方读完或提前 Close 后结束。
	Stream(ctx context.Context, input I, opts ...Option) (output *schema.StreamReader[O], err error)
	// Collect 输入为流，输出为完整值。
	Collect(ctx context.Context, input *schema.StreamReader[I], opts ...Option) (output O, err error)
	// Transform 输入输出均为流。
	Transform(ctx context.Context, input *schema.StreamReader[I], opts ...Option) (output *schema.StreamReader[O], err error)
}

// 类型擦除后的执行函数。
type (
	invoke    func(ctx context.Context, input any) (output any, err error)
	stream    func(ctx context.Context, input any) (output *schema.StreamReader[any], err error)
	transform func(ctx context.Context, input *schema.StreamReader[any]) (output *schema.StreamReader[any], err error)
	batch     func(ctx context.Context, inputs []any) (outputs []any, err error)
)

// composableRunnable 流水线中的一个阶段。
//
// 无论阶段原生实现了哪些方法，都提供 i、s、t 三种执行方式；
// b 仅在阶段原生支持批量时非空。
type composableRunnable struct {
	i invoke
	s stream
	t transform
	b batch

	inputType  reflect.Type
	outputType reflect.Type

	// streamNative 阶段原生实现了 Stream 或 Transform，可作为流式尾部的一员。
	streamNative bool

	meta *executorMeta
}

// executorMeta 阶段的展示信息。
type executorMeta struct {
	component components.Component
	implType  string
	name      string
}

// runnablePacker 持有一个阶段的四种执行方法，缺失的方法由已有方法推导。
type runnablePacker[I, O any] struct {
	i Invoke[I, O]
	s Stream[I, O]
	c Collect[I, O]
	t Transform[I, O]
}

func newRunnablePacker[I, O any](i Invoke[I, O], s Stream[I, O], c Collect[I, O], t Transform[I, O]) *runnablePacker[I, O] {
	r := &runnablePacker[I, O]{}

	if i != nil {
		r.i = i
	} else if s != nil {
		r.i = invokeByStream(s)
	} else if c != nil {
		r.i = invokeByCollect(c)
	} else {
		r.i = invokeByTransform(t)
	}

	if s != nil {
		r.s = s
	} else if t != nil {
		r.s = streamByTransform(t)
	} else if i != nil {
		r.s = streamByInvoke(i)
	} else {
		r.s = streamByCollect(c)
	}

	if c != nil {
		r.c = c
	} else if t != nil {
		r.c = collectByTransform(t)
	} else if i != nil {
		r.c = collectByInvoke(i)
	} else {
		r.c = collectByStream(s)
	}

	if t != nil {
		r.t = t
	} else if s != nil {
		r.t = transformByStream(s)
	} else if c != nil {
		r.t = transformByCollect(c)
	} else {
		r.t = transformByInvoke(i)
	}

	return r
}

// toComposableRunnable 擦除类型参数。输入类型在调用前已由流水线检查，这里的断言不会失败。
func (rp *runnablePacker[I, O]) toComposableRunnable() *composableRunnable {
	return &composableRunnable{
		i: func(ctx context.Context, input any) (any, error) {
			return rp.i(ctx, assertInput[I](input))
		},
		s: func(ctx context.Context, input any) (*schema.StreamReader[any], error) {
			out, err := rp.s(ctx, assertInput[I](input))
			if err != nil {
				return nil, err
			}
			return packStreamReader(out), nil
		},
		t: func(ctx context.Context, input *schema.StreamReader[any]) (*schema.StreamReader[any], error) {
			out, err := rp.t(ctx, unpackStreamReader[I](input))
			if err != nil {
				return nil, err
			}
			return packStreamReader(out), nil
		},
		inputType:  generic.TypeOf[I](),
		outputType: generic.TypeOf[O](),
	}
}

func assertInput[I any](input any) I {
	in, ok := input.(I)
	if !ok && input != nil {
		panic(newUnexpectedInputTypeErr(generic.TypeOf[I](), reflect.TypeOf(input)))
	}
	return in
}

func packStreamReader[T any](sr *schema.StreamReader[T]) *schema.StreamReader[any] {
	return schema.StreamReaderWithConvert(sr, func(t T) (any, error) {
		return t, nil
	})
}

func unpackStreamReader[T any](sr *schema.StreamReader[any]) *schema.StreamReader[T] {
	return schema.StreamReaderWithConvert(sr, func(a any) (T, error) {
		return assertInput[T](a), nil
	})
}

func invokeByStream[I, O any](s Stream[I, O]) Invoke[I, O] {
	return func(ctx context.Context, input I) (output O, err error) {
		sr, err := s(ctx, input)
		if err != nil {
			return output, err
		}

		return concatStreamReader(sr)
	}
}

func invokeByCollect[I, O any](c Collect[I, O]) Invoke[I, O] {
	return func(ctx context.Context, input I) (output O, err error) {
		return c(ctx, schema.StreamReaderFromArray([]I{input}))
	}
}

func invokeByTransform[I, O any](t Transform[I, O]) Invoke[I, O] {
	return func(ctx context.Context, input I) (output O, err error) {
		sr, err := t(ctx, schema.StreamReaderFromArray([]I{input}))
		if err != nil {
			return output, err
		}

		return concatStreamReader(sr)
	}
}

func streamByTransform[I, O any](t Transform[I, O]) Stream[I, O] {
	return func(ctx context.Context, input I) (*schema.StreamReader[O], error) {
		return t(ctx, schema.StreamReaderFromArray([]I{input}))
	}
}

func streamByInvoke[I, O any](i Invoke[I, O]) Stream[I, O] {
	return func(ctx context.Context, input I) (*schema.StreamReader[O], error) {
		out, err := i(ctx, input)
		if err != nil {
			return nil, err
		}

		return schema.StreamReaderFromArray([]O{out}), nil
	}
}

func streamByCollect[I, O any](c Collect[I, O]) Stream[I, O] {
	return func(ctx context.Context, input I) (*schema.StreamReader[O], error) {
		out, err := c(ctx, schema.StreamReaderFromArray([]I{input}))
		if err != nil {
			return nil, err
		}

		return schema.StreamReaderFromArray([]O{out}), nil
	}
}

func collectByTransform[I, O any](t Transform[I, O]) Collect[I, O] {
	return func(ctx context.Context, input *schema.StreamReader[I]) (output O, err error) {
		sr, err := t(ctx, input)
		if err != nil {
			return output, err
		}

		return concatStreamReader(sr)
	}
}

func collectByInvoke[I, O any](i Invoke[I, O]) Collect[I, O] {
	return func(ctx context.Context, input *schema.StreamReader[I]) (output O, err error) {
		in, err := concatStreamReader(input)
		if err != nil {
			return output, err
		}

		return i(ctx, in)
	}
}

func collectByStream[I, O any](s Stream[I, O]) Collect[I, O] {
	return func(ctx context.Context, input *schema.StreamReader[I]) (output O, err error) {
		in, err := concatStreamReader(input)
		if err != nil {
			return output, err
		}

		sr, err := s(ctx, in)
		if err != nil {
			return output, err
		}

		return concatStreamReader(sr)
	}
}

func transformByStream[I, O any](s Stream[I, O]) Transform[I, O] {
	return func(ctx context.Context, input *schema.StreamReader[I]) (*schema.StreamReader[O], error) {
		in, err := concatStreamReader(input)
		if err != nil {
			return nil, err
		}

		return s(ctx, in)
	}
}

func transformByCollect[I, O any](c Collect[I, O]) Transform[I, O] {
	return func(ctx context.Context, input *schema.StreamReader[I]) (*schema.StreamReader[O], error) {
		out, err := c(ctx, input)
		if err != nil {
			return nil, err
		}

		return schema.StreamReaderFromArray([]O{out}), nil
	}
}

func transformByInvoke[I, O any](i Invoke[I, O]) Transform[I, O] {
	return func(ctx context.Context, input *schema.StreamReader[I]) (*schema.StreamReader[O], error) {
		in, err := concatStreamReader(input)
		if err != nil {
			return nil, err
		}

		out, err := i(ctx, in)
		if err != nil {
			return nil, err
		}

		return schema.StreamReaderFromArray([]O{out}), nil
	}
}
