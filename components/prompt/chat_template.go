package prompt

import (
	"context"
	"maps"
	"slices"

	"github.com/favbox/chainflow/schema"
)

// DefaultChatTemplate 默认的聊天模板实现。
//
// 由一组有序的消息模板组成，构建后不可变，可被多个调用并发复用。
type DefaultChatTemplate struct {
	// templates 按顺序排列的消息模板。
	templates []schema.MessagesTemplate

	// formatType 槽位语法（FString、Jinja2、GoTemplate）。
	formatType schema.FormatType
}

// FromMessages 从给定的消息模板和格式类型创建聊天模板。
//
// 示例：
//
//	template := prompt.FromMessages(schema.FString,
//		schema.SystemMessage("You are a helpful assistant."),
//		schema.UserMessage("Explain {topic} in 2-3 sentences."),
//	)
//
//	chain := compose.NewChain[map[string]any, string]()
//	chain.AppendChatTemplate(template)
func FromMessages(formatType schema.FormatType, templates ...schema.MessagesTemplate) *DefaultChatTemplate {
	return &DefaultChatTemplate{
		templates:  templates,
		formatType: formatType,
	}
}

// FromTemplate 由单段文本创建聊天模板，渲染结果为一条用户消息。
func FromTemplate(formatType schema.FormatType, text string) *DefaultChatTemplate {
	return FromMessages(formatType, schema.UserMessage(text))
}

type options struct {
	partial map[string]any
}

// WithPartialVariables 预置部分变量。调用方传入的同名变量优先。
func WithPartialVariables(vs map[string]any) Option {
	return WrapImplSpecificOptFn(func(o *options) {
		if o.partial == nil {
			o.partial = make(map[string]any, len(vs))
		}
		maps.Copy(o.partial, vs)
	})
}

// Format 使用给定变量格式化全部消息模板。
//
// 格式化前先收集所有模板引用的槽位，缺少取值时返回 *schema.TemplateError，
// 其 Missing 列出全部缺失槽位；多余的变量被忽略。
func (t *DefaultChatTemplate) Format(ctx context.Context, vs map[string]any, opts ...Option) ([]*schema.Message, error) {
	o := GetImplSpecificOptions(&options{}, opts...)
	if len(o.partial) > 0 {
		merged := maps.Clone(o.partial)
		maps.Copy(merged, vs)
		vs = merged
	}

	slots, err := t.Slots()
	if err != nil {
		return nil, err
	}
	if missing := schema.MissingSlots(slots, vs); len(missing) > 0 {
		return nil, &schema.TemplateError{Missing: missing}
	}

	result := make([]*schema.Message, 0, len(t.templates))
	for _, template := range t.templates {
		msgs, err := template.Format(ctx, vs, t.formatType)
		if err != nil {
			return nil, err
		}

		result = append(result, msgs...)
	}

	return result, nil
}

// Slots 返回全部模板引用的槽位名，已排序、去重。
func (t *DefaultChatTemplate) Slots() ([]string, error) {
	var slots []string
	for _, template := range t.templates {
		sp, ok := template.(schema.SlotProvider)
		if !ok {
			continue
		}
		s, err := sp.Slots(t.formatType)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s...)
	}

	slices.Sort(slots)
	return slices.Compact(slots), nil
}

// GetType 返回聊天模板的类型名。
func (t *DefaultChatTemplate) GetType() string {
	return "Default"
}
