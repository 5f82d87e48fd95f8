package compose

import (
	"github.com/favbox/chainflow/callbacks"
)

// DefaultBatchConcurrency Batch 默认的并发上限。
const DefaultBatchConcurrency = 4

// Option 单次调用的选项。
type Option func(o *options)

type options struct {
	handlers         []callbacks.Handler
	batchConcurrency int
}

// WithCallbacks 为本次调用追加回调处理器。
func WithCallbacks(handlers ...callbacks.Handler) Option {
	return func(o *options) {
		o.handlers = append(o.handlers, handlers...)
	}
}

// WithBatchConcurrency 设置 Batch 同时处理的输入数上限，n <= 0 时使用默认值。
// 原生批量阶段的一次调用只占用一个名额。
func WithBatchConcurrency(n int) Option {
	return func(o *options) {
		o.batchConcurrency = n
	}
}

func getOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.batchConcurrency <= 0 {
		o.batchConcurrency = DefaultBatchConcurrency
	}

	return o
}
