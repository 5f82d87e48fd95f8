package compose

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/favbox/chainflow/components"
)

// StageError 阶段执行失败，Position 为阶段在展平后的流水线中的下标。
// errors.Is / errors.As 可穿透到阶段返回的原始错误。
type StageError struct {
	Position  int
	Name      string
	Component components.Component
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d [%s/%s] failed: %v", e.Position, e.Component, e.Name, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// CompositionError 相邻阶段的类型不匹配。
//
// Position 为接收方阶段的下标；编译时检查流水线输出类型失败时，Position 等于阶段数。
// 能在组合时确定的不匹配在 Compose/Compile 时返回；
// 上游输出为接口类型时只能在运行时判断，此时由首次调用返回。
type CompositionError struct {
	Position int
	From     reflect.Type
	To       reflect.Type
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition error at stage %d: %v is not assignable to %v", e.Position, e.From, e.To)
}

// ErrBatchStageMismatch 原生批量调用返回的结果数量与输入不一致。
var ErrBatchStageMismatch = errors.New("native batch returned a different number of outputs than inputs")

func newUnexpectedInputTypeErr(expected reflect.Type, got reflect.Type) error {
	return fmt.Errorf("unexpected input type. expected: %v, got: %v", expected, got)
}

func newStreamReadError(err error) error {
	return fmt.Errorf("failed to read from stream. error: %w", err)
}

func wrapStageError(pos int, st *composableRunnable, err error) error {
	// 上游阶段的错误沿流传递时已带有其自身的下标
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	var ce *CompositionError
	if errors.As(err, &ce) {
		return err
	}

	return &StageError{
		Position:  pos,
		Name:      st.meta.name,
		Component: st.meta.component,
		Err:       err,
	}
}
