package compose

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/favbox/chainflow/internal/callbacks"
	"github.com/favbox/chainflow/internal/safe"
)

// BatchResult Batch 中单个输入的结果，Output 与 Err 二者取一。
type BatchResult[O any] struct {
	Output O
	Err    error
}

// FirstError 返回第一个失败输入的错误（附带其下标），全部成功时返回 nil。
// 需要「任一失败即整体失败」语义的调用方可直接使用。
func FirstError[O any](results []BatchResult[O]) error {
	for idx, r := range results {
		if r.Err != nil {
			return fmt.Errorf("batch item %d: %w", idx, r.Err)
		}
	}
	return nil
}

// Outputs 全部成功时按顺序返回输出，否则返回 FirstError。
func Outputs[O any](results []BatchResult[O]) ([]O, error) {
	if err := FirstError(results); err != nil {
		return nil, err
	}

	outs := make([]O, len(results))
	for idx, r := range results {
		outs[idx] = r.Output
	}
	return outs, nil
}

// batch 对每个输入执行流水线。
//
// 连续的非原生批量阶段组成一段，段内每个输入独立执行，段间同步；
// 原生批量阶段把仍存活的输入交给一次调用。失败的输入不再进入后续阶段，其余输入不受影响。
func (p *Pipeline) batch(ctx context.Context, ins []any, o *options) ([]any, []error) {
	vals := make([]any, len(ins))
	errs := make([]error, len(ins))
	copy(vals, ins)

	ctx = p.onStart(ctx, ins)

	for pos := 0; pos < len(p.stages); {
		if p.stages[pos].b != nil {
			p.runNativeBatch(ctx, pos, vals, errs)
			pos++
			continue
		}

		end := pos
		for end < len(p.stages) && p.stages[end].b == nil {
			end++
		}

		var g errgroup.Group
		g.SetLimit(o.batchConcurrency)
		for idx := range vals {
			if errs[idx] != nil {
				continue
			}
			from := pos
			g.Go(func() error {
				vals[idx], errs[idx] = p.invokeRange(ctx, from, end, vals[idx])
				return nil
			})
		}
		_ = g.Wait()

		pos = end
	}

	var firstErr error
	for idx, err := range errs {
		if err != nil {
			firstErr = fmt.Errorf("batch item %d: %w", idx, err)
			break
		}
	}
	p.onFinish(ctx, vals, firstErr)

	return vals, errs
}

// runNativeBatch 用一次原生批量调用处理所有存活的输入。调用失败时这些输入全部失败。
func (p *Pipeline) runNativeBatch(ctx context.Context, pos int, vals []any, errs []error) {
	var (
		alive  []int
		inputs []any
	)
	for idx, v := range vals {
		if errs[idx] != nil {
			continue
		}
		if err := p.checkInput(pos, v); err != nil {
			errs[idx] = err
			continue
		}
		alive = append(alive, idx)
		inputs = append(inputs, v)
	}
	if len(alive) == 0 {
		return
	}

	st := p.stages[pos]
	cb := callbacks.Enabled(ctx)
	var info *callbacks.RunInfo
	if cb {
		info = p.stageInfo(pos)
		ctx = callbacks.OnStart(ctx, info, inputs)
	}

	outs, err := safeBatch(ctx, st.b, inputs)
	if err == nil && len(outs) != len(inputs) {
		err = fmt.Errorf("%w: %d inputs, %d outputs", ErrBatchStageMismatch, len(inputs), len(outs))
	}
	if err != nil {
		err = wrapStageError(pos, st, err)
		if cb {
			callbacks.OnError(ctx, info, err)
		}
		for _, idx := range alive {
			vals[idx], errs[idx] = nil, err
		}
		return
	}

	if cb {
		callbacks.OnEnd(ctx, info, outs)
	}
	for i, idx := range alive {
		vals[idx] = outs[i]
	}
}

func safeBatch(ctx context.Context, b batch, ins []any) (outs []any, err error) {
	defer safe.Recover(&err)
	return b(ctx, ins)
}
