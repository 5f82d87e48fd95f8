package compose

/*
 * chain.go - 链式构建器
 *
 * 使用流程：
 *   1. 创建链：NewChain[I, O]()
 *   2. 添加阶段：AppendChatTemplate().AppendChatModel().AppendParser()
 *   3. 编译：Compile(ctx)，构建过程中的第一个错误在此返回
 *   4. 执行：Invoke/Batch/Stream/Collect/Transform
 */

import (
	"context"
	"errors"
	"fmt"

	"github.com/favbox/chainflow/components/model"
	"github.com/favbox/chainflow/components/prompt"
	"github.com/favbox/chainflow/internal/generic"
	"github.com/favbox/chainflow/schema"
)

// ErrChainCompiled 链编译后不能再追加阶段。
var ErrChainCompiled = errors.New("chain has been compiled, cannot be modified")

// Chain 以链式调用构建流水线，输入类型为 I，输出类型为 O。
//
//	chain := compose.NewChain[map[string]any, string]().
//		AppendChatTemplate(tpl).
//		AppendChatModel(cm).
//		AppendParser(parser.NewStrOutputParser())
//
//	r, err := chain.Compile(ctx)
type Chain[I, O any] struct {
	// err 构建过程中的第一个错误
	err error

	stages   []AnyStage
	compiled bool
}

// NewChain 创建空链。
func NewChain[I, O any]() *Chain[I, O] {
	return &Chain[I, O]{}
}

func (c *Chain[I, O]) append(kind string, isNil bool, stage func() AnyStage) *Chain[I, O] {
	if c.err != nil {
		return c
	}
	if c.compiled {
		c.err = ErrChainCompiled
		return c
	}
	if isNil {
		c.err = fmt.Errorf("append %s at position %d: nil component", kind, len(c.stages))
		return c
	}

	c.stages = append(c.stages, stage())
	return c
}

// AppendChatTemplate 追加提示词模板阶段。
func (c *Chain[I, O]) AppendChatTemplate(tpl prompt.ChatTemplate, opts ...StageOption) *Chain[I, O] {
	return c.append("ChatTemplate", generic.IsNil(tpl), func() AnyStage {
		return ChatTemplateStage(tpl, opts...)
	})
}

// AppendChatModel 追加聊天模型阶段。
func (c *Chain[I, O]) AppendChatModel(m model.BaseChatModel, opts ...StageOption) *Chain[I, O] {
	return c.append("ChatModel", generic.IsNil(m), func() AnyStage {
		return ChatModelStage(m, opts...)
	})
}

// AppendParser 追加输出解析器阶段，解析结果类型即链的输出类型 O。
func (c *Chain[I, O]) AppendParser(p schema.MessageParser[O], opts ...StageOption) *Chain[I, O] {
	return c.append("Parser", generic.IsNil(p), func() AnyStage {
		return ParserStage[O](p, opts...)
	})
}

// AppendLambda 追加自定义函数阶段。
func (c *Chain[I, O]) AppendLambda(l *Lambda) *Chain[I, O] {
	return c.append("Lambda", generic.IsNil(l), func() AnyStage {
		return l
	})
}

// AppendPipeline 追加已组合好的流水线，其阶段被展平到本链中。
func (c *Chain[I, O]) AppendPipeline(p *Pipeline) *Chain[I, O] {
	return c.append("Pipeline", generic.IsNil(p), func() AnyStage {
		return p
	})
}

// AppendStage 追加任意阶段。
func (c *Chain[I, O]) AppendStage(s AnyStage) *Chain[I, O] {
	return c.append("Stage", generic.IsNil(s), func() AnyStage {
		return s
	})
}

// Pipeline 组合当前已追加的阶段。
func (c *Chain[I, O]) Pipeline() (*Pipeline, error) {
	if c.err != nil {
		return nil, c.err
	}

	return Compose(c.stages...)
}

// Compile 组合阶段并绑定类型，返回构建过程中遇到的第一个错误。
func (c *Chain[I, O]) Compile(_ context.Context) (Runnable[I, O], error) {
	p, err := c.Pipeline()
	if err != nil {
		return nil, err
	}

	r, err := Compile[I, O](p)
	if err != nil {
		return nil, err
	}

	c.compiled = true
	return r, nil
}
