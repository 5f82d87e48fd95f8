package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/favbox/chainflow/callbacks"
	"github.com/favbox/chainflow/components"
	"github.com/favbox/chainflow/schema"
)

// usageTracker 通过回调累计聊天模型返回的 token 用量，批处理时可被并发调用。
type usageTracker struct {
	mu    sync.Mutex
	calls int
	usage schema.TokenUsage
	start time.Time
}

func newUsageTracker() *usageTracker {
	return &usageTracker{start: time.Now()}
}

func (u *usageTracker) handler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			if info.Component != components.ComponentOfChatModel {
				return ctx
			}
			switch out := output.(type) {
			case *schema.Message:
				u.add(out)
			case []any:
				for _, o := range out {
					if msg, ok := o.(*schema.Message); ok {
						u.add(msg)
					}
				}
			}
			return ctx
		}).
		Build()
}

func (u *usageTracker) add(msg *schema.Message) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.calls++
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return
	}
	u.usage.PromptTokens += msg.ResponseMeta.Usage.PromptTokens
	u.usage.CompletionTokens += msg.ResponseMeta.Usage.CompletionTokens
	u.usage.TotalTokens += msg.ResponseMeta.Usage.TotalTokens
}

// reset 重新开始计数，每个场景开始前调用。
func (u *usageTracker) reset() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.calls = 0
	u.usage = schema.TokenUsage{}
	u.start = time.Now()
}

// summary 形如 "2 calls, 1,234 tokens (prompt 34, completion 1,200) in 1.2 s"。
// 流式调用不经过 OnEnd，只统计耗时。
func (u *usageTracker) summary() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	elapsed := humanize.SIWithDigits(time.Since(u.start).Seconds(), 1, "s")
	if u.calls == 0 {
		return "done in " + elapsed
	}

	return fmt.Sprintf("%s %s, %s tokens (prompt %s, completion %s) in %s",
		humanize.Comma(int64(u.calls)), plural(u.calls, "call", "calls"),
		humanize.Comma(int64(u.usage.TotalTokens)),
		humanize.Comma(int64(u.usage.PromptTokens)),
		humanize.Comma(int64(u.usage.CompletionTokens)),
		elapsed)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
