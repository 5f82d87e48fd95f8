package compose

import (
	"context"
	"errors"

	"github.com/favbox/chainflow/schema"
)

// Lambda 用户自定义函数构成的阶段。
//
// 只需实现 Invoke、Stream、Collect、Transform 中的任意一种，其余由流水线自动适配。
type Lambda struct {
	executor *composableRunnable
}

func (l *Lambda) flatten() []*composableRunnable {
	if l == nil || l.executor == nil {
		return nil
	}
	return []*composableRunnable{l.executor}
}

// InvokableLambda 由同步函数创建 Lambda。
//
// 示例：
//
//	upper := compose.InvokableLambda(func(ctx context.Context, s string) (string, error) {
//		return strings.ToUpper(s), nil
//	})
func InvokableLambda[I, O any](i Invoke[I, O], opts ...StageOption) *Lambda {
	return anyLambda(i, nil, nil, nil, opts...)
}

// StreamableLambda 由流式输出函数创建 Lambda，原生支持流式。
func StreamableLambda[I, O any](s Stream[I, O], opts ...StageOption) *Lambda {
	return anyLambda(nil, s, nil, nil, opts...)
}

// CollectableLambda 由流式输入函数创建 Lambda。
func CollectableLambda[I, O any](c Collect[I, O], opts ...StageOption) *Lambda {
	return anyLambda(nil, nil, c, nil, opts...)
}

// TransformableLambda 由流转换函数创建 Lambda，原生支持流式，在流式调用中逐块处理。
func TransformableLambda[I, O any](t Transform[I, O], opts ...StageOption) *Lambda {
	return anyLambda(nil, nil, nil, t, opts...)
}

// AnyLambda 由任意组合的四种函数创建 Lambda，至少提供一种。
func AnyLambda[I, O any](i Invoke[I, O], s Stream[I, O], c Collect[I, O], t Transform[I, O], opts ...StageOption) (*Lambda, error) {
	if i == nil && s == nil && c == nil && t == nil {
		return nil, errors.New("needs to have at least one of four lambda types: invoke/stream/collect/transform, got none")
	}

	return anyLambda(i, s, c, t, opts...), nil
}

func anyLambda[I, O any](i Invoke[I, O], s Stream[I, O], c Collect[I, O], t Transform[I, O], opts ...StageOption) *Lambda {
	r := newRunnablePacker(i, s, c, t).toComposableRunnable()
	r.streamNative = s != nil || t != nil
	r.meta = newMeta(ComponentOfLambda, nil, append([]StageOption{WithStageType("Lambda")}, opts...))

	return &Lambda{executor: r}
}

// ToUserMessages 把字符串包装为单条用户消息，用于直接以文本调用模型。
//
//	chain := compose.NewChain[string, string]().
//		AppendLambda(compose.ToUserMessages()).
//		AppendChatModel(cm).
//		AppendParser(parser.NewStrOutputParser())
func ToUserMessages() *Lambda {
	return InvokableLambda(func(_ context.Context, text string) ([]*schema.Message, error) {
		return []*schema.Message{schema.UserMessage(text)}, nil
	}, WithStageName("ToUserMessages"))
}
