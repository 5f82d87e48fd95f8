package compose

import (
	"context"
	"fmt"
	"reflect"

	"github.com/favbox/chainflow/components"
	"github.com/favbox/chainflow/components/model"
	"github.com/favbox/chainflow/components/prompt"
	"github.com/favbox/chainflow/internal/generic"
	"github.com/favbox/chainflow/schema"
)

// AnyStage 可被组合进流水线的对象：*Stage、*Lambda 与 *Pipeline。
type AnyStage interface {
	flatten() []*composableRunnable
}

var (
	_ AnyStage = (*Stage)(nil)
	_ AnyStage = (*Lambda)(nil)
	_ AnyStage = (*Pipeline)(nil)
)

// Stage 由组件包装而成的单个阶段。构建后不可变。
type Stage struct {
	r *composableRunnable
}

func (s *Stage) flatten() []*composableRunnable {
	if s == nil || s.r == nil {
		return nil
	}
	return []*composableRunnable{s.r}
}

// Name 阶段名称。
func (s *Stage) Name() string {
	return s.r.meta.name
}

// InputType 阶段的输入类型。
func (s *Stage) InputType() reflect.Type {
	return s.r.inputType
}

// OutputType 阶段的输出类型。
func (s *Stage) OutputType() reflect.Type {
	return s.r.outputType
}

type stageOptions struct {
	name     string
	implType string
}

// StageOption 阶段的构建选项。
type StageOption func(o *stageOptions)

// WithStageName 设置阶段名称，出现在 StageError 与回调的 RunInfo 中。默认为实现类型名。
func WithStageName(name string) StageOption {
	return func(o *stageOptions) {
		o.name = name
	}
}

// WithStageType 覆盖阶段的实现类型名。
func WithStageType(typ string) StageOption {
	return func(o *stageOptions) {
		o.implType = typ
	}
}

func newMeta(component components.Component, impl any, opts []StageOption) *executorMeta {
	o := &stageOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if o.implType == "" {
		if typ, ok := components.GetType(impl); ok {
			o.implType = typ
		} else {
			o.implType = generic.ParseTypeName(reflect.ValueOf(impl))
		}
	}
	if o.name == "" {
		o.name = o.implType
	}
	if o.name == "" {
		o.name = string(component)
	}

	return &executorMeta{
		component: component,
		implType:  o.implType,
		name:      o.name,
	}
}

// ChatTemplateStage 把提示词模板包装为阶段：map[string]any -> []*schema.Message。
func ChatTemplateStage(tpl prompt.ChatTemplate, opts ...StageOption) *Stage {
	i := func(ctx context.Context, vs map[string]any) ([]*schema.Message, error) {
		return tpl.Format(ctx, vs)
	}

	r := newRunnablePacker[map[string]any, []*schema.Message](i, nil, nil, nil).toComposableRunnable()
	r.meta = newMeta(components.ComponentOfPrompt, tpl, opts)

	return &Stage{r: r}
}

// ChatModelStage 把聊天模型包装为阶段：[]*schema.Message -> *schema.Message。
//
// 模型原生支持流式输出；实现了 model.BatchChatModel 时，Batch 会把全部输入交给一次 GenerateBatch 调用。
func ChatModelStage(m model.BaseChatModel, opts ...StageOption) *Stage {
	r := newRunnablePacker[[]*schema.Message, *schema.Message](m.Generate, m.Stream, nil, nil).toComposableRunnable()
	r.streamNative = true
	r.meta = newMeta(components.ComponentOfChatModel, m, opts)

	if bm, ok := m.(model.BatchChatModel); ok {
		r.b = func(ctx context.Context, inputs []any) ([]any, error) {
			msgs := make([][]*schema.Message, len(inputs))
			for idx, in := range inputs {
				msgs[idx] = assertInput[[]*schema.Message](in)
			}

			outs, err := bm.GenerateBatch(ctx, msgs)
			if err != nil {
				return nil, err
			}
			if len(outs) != len(inputs) {
				return nil, fmt.Errorf("%w: %d inputs, %d outputs", ErrBatchStageMismatch, len(inputs), len(outs))
			}

			ret := make([]any, len(outs))
			for idx, out := range outs {
				ret[idx] = out
			}
			return ret, nil
		}
	}

	return &Stage{r: r}
}

// streamingParser 支持逐块解析的输出解析器。
type streamingParser[T any] interface {
	Transform(ctx context.Context, input *schema.StreamReader[*schema.Message]) (*schema.StreamReader[T], error)
}

// ParserStage 把输出解析器包装为阶段：*schema.Message -> T。
//
// 解析器实现了 Transform（例如 parser.StrOutputParser）时原生支持流式，
// 否则在流式调用中先拼接完整消息再解析。
func ParserStage[T any](p schema.MessageParser[T], opts ...StageOption) *Stage {
	var t Transform[*schema.Message, T]
	if sp, ok := p.(streamingParser[T]); ok {
		t = sp.Transform
	}

	r := newRunnablePacker[*schema.Message, T](p.Parse, nil, nil, t).toComposableRunnable()
	r.streamNative = t != nil
	r.meta = newMeta(components.ComponentOfParser, p, opts)

	return &Stage{r: r}
}
