package safe

import (
	"fmt"
	"runtime/debug"
)

// panicErr 包装 panic 信息和堆栈跟踪的错误类型。
type panicErr struct {
	info  any    // panic 信息
	stack []byte // 堆栈跟踪信息
}

func (p *panicErr) Error() string {
	return fmt.Sprintf("panic error: %v, \nstack: %s", p.info, string(p.stack))
}

// Unwrap 当 panic 值本身是 error 时，允许 errors.Is/As 穿透。
func (p *panicErr) Unwrap() error {
	if err, ok := p.info.(error); ok {
		return err
	}
	return nil
}

// NewPanicErr 创建新的 panic 错误。
// 包装 panic 信息和堆栈跟踪，实现 error 接口，可打印完整错误信息。
func NewPanicErr(info any, stack []byte) error {
	return &panicErr{
		info,
		stack,
	}
}

// Recover 在 defer 中使用，把当前 goroutine 的 panic 转换为 *errp。
//
// 示例:
//
//	func run() (err error) {
//		defer safe.Recover(&err)
//		...
//	}
func Recover(errp *error) {
	if r := recover(); r != nil {
		*errp = NewPanicErr(r, debug.Stack())
	}
}
