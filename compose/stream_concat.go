package compose

import (
	"io"

	"github.com/favbox/chainflow/internal"
	"github.com/favbox/chainflow/schema"
)

// RegisterStreamChunkConcatFunc 注册 T 类型流块的合并函数。
// 流式输出需要被整体消费（例如下游阶段只支持 Invoke）时使用。
// string、[]string 与 *schema.Message 已内置，通常在 init 中注册。
func RegisterStreamChunkConcatFunc[T any](fn func([]T) (T, error)) {
	internal.RegisterStreamChunkConcatFunc(fn)
}

// concatStreamReader 读完并关闭流，把全部数据块合并为一个值。
// 空流合并为零值。
func concatStreamReader[T any](sr *schema.StreamReader[T]) (T, error) {
	defer sr.Close()

	var items []T
	for {
		chunk, err := sr.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}

			var t T
			return t, newStreamReadError(err)
		}

		items = append(items, chunk)
	}

	if len(items) == 0 {
		var t T
		return t, nil
	}

	return internal.ConcatItems(items)
}
