package schema

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/favbox/chainflow/internal"
)

func init() {
	internal.RegisterStreamChunkConcatFunc(ConcatMessages)
}

// RoleType 消息角色类型。
type RoleType string

const (
	// Assistant 助手角色，表示消息由模型返回。
	Assistant RoleType = "assistant"
	// User 用户角色，表示消息来自用户输入。
	User RoleType = "user"
	// System 系统角色，表示消息为系统指令。
	System RoleType = "system"
)

// TokenUsage 一次生成的 token 用量。
type TokenUsage struct {
	// PromptTokens 输入 token 数。
	PromptTokens int `json:"prompt_tokens"`
	// CompletionTokens 生成 token 数。
	CompletionTokens int `json:"completion_tokens"`
	// TotalTokens 总 token 数。
	TotalTokens int `json:"total_tokens"`
}

// ResponseMeta 模型响应的元信息，由后端原样透传。
type ResponseMeta struct {
	// FinishReason 结束原因，例如 "stop"、"length"，具体取值由后端定义。
	FinishReason string `json:"finish_reason,omitempty"`
	// Usage token 用量，后端未返回时为 nil。
	Usage *TokenUsage `json:"usage,omitempty"`
}

// Message 模型输入输出的统一数据结构。
//
// 作为请求时，一组按顺序排列、带角色的 Message 构成对话；
// 作为响应时，Content 为生成的文本，ResponseMeta 与 Extra 携带后端元数据。
//
//	&schema.Message{
//		Role:    schema.User,
//		Content: "What is the capital of France?",
//	}
type Message struct {
	Role    RoleType `json:"role"`
	Content string   `json:"content"`

	// Name 可选的发言者名称。
	Name string `json:"name,omitempty"`

	ResponseMeta *ResponseMeta `json:"response_meta,omitempty"`

	// Extra 后端自定义的附加信息，引擎不做解释。
	Extra map[string]any `json:"extra,omitempty"`
}

// String 返回便于打印的消息文本。
//
//	user: Explain caching in 2-3 sentences.
//	finish_reason: stop
func (m *Message) String() string {
	sb := &strings.Builder{}
	sb.WriteString(fmt.Sprintf("%s: %s", m.Role, m.Content))
	if m.ResponseMeta != nil {
		sb.WriteString(fmt.Sprintf("\nfinish_reason: %s", m.ResponseMeta.FinishReason))
		if m.ResponseMeta.Usage != nil {
			sb.WriteString(fmt.Sprintf("\nusage: %v", *m.ResponseMeta.Usage))
		}
	}

	return sb.String()
}

// SystemMessage 创建系统消息。
func SystemMessage(content string) *Message {
	return &Message{Role: System, Content: content}
}

// UserMessage 创建用户消息。
func UserMessage(content string) *Message {
	return &Message{Role: User, Content: content}
}

// AssistantMessage 创建助手消息。
func AssistantMessage(content string) *Message {
	return &Message{Role: Assistant, Content: content}
}

// MessagesTemplate 可被格式化为一组消息的模板。
// *Message 与 MessagesPlaceholder 均实现该接口。
type MessagesTemplate interface {
	Format(ctx context.Context, vs map[string]any, formatType FormatType) ([]*Message, error)
}

// SlotProvider 可报告自身引用的槽位名的模板。
// ChatTemplate 在格式化前用它一次性找出全部缺失槽位。
type SlotProvider interface {
	Slots(formatType FormatType) ([]string, error)
}

// Format 用 vs 填充消息内容中的槽位，返回副本，原消息不变。
//
//	msg := schema.UserMessage("Explain {topic} in 2-3 sentences.")
//	msgs, err := msg.Format(ctx, map[string]any{"topic": "caching"}, schema.FString)
//	// msgs[0].Content == "Explain caching in 2-3 sentences."
func (m *Message) Format(_ context.Context, vs map[string]any, formatType FormatType) ([]*Message, error) {
	c, err := formatContent(m.Content, vs, formatType)
	if err != nil {
		return nil, err
	}

	copied := *m
	copied.Content = c

	return []*Message{&copied}, nil
}

// Slots 返回消息内容引用的槽位名。
func (m *Message) Slots(formatType FormatType) ([]string, error) {
	return ExtractSlots(m.Content, formatType)
}

// messagesPlaceholder 对话历史占位符。
type messagesPlaceholder struct {
	key      string
	optional bool
}

// MessagesPlaceholder 创建消息占位符，渲染时替换为 vs[key] 中的 []*Message。
//
//	prompt.FromMessages(schema.FString,
//		schema.SystemMessage("You are a helpful assistant."),
//		schema.MessagesPlaceholder("history", true),
//		schema.UserMessage("{question}"),
//	)
func MessagesPlaceholder(key string, optional bool) MessagesTemplate {
	return &messagesPlaceholder{
		key:      key,
		optional: optional,
	}
}

func (p *messagesPlaceholder) Format(_ context.Context, vs map[string]any, _ FormatType) ([]*Message, error) {
	v, ok := vs[p.key]
	if !ok {
		if p.optional {
			return []*Message{}, nil
		}

		return nil, &TemplateError{Missing: []string{p.key}}
	}

	msgs, ok := v.([]*Message)
	if !ok {
		return nil, &TemplateError{
			Err: fmt.Errorf("only messages can be used to format message placeholder, key: %v, actual type: %v", p.key, reflect.TypeOf(v)),
		}
	}

	return msgs, nil
}

func (p *messagesPlaceholder) Slots(FormatType) ([]string, error) {
	if p.optional {
		return nil, nil
	}
	return []string{p.key}, nil
}

// ConcatMessages 合并流式返回的消息块。
// 内容按顺序拼接；角色与名称必须一致；FinishReason 取最后一个非空值；用量取各项最大值。
func ConcatMessages(msgs []*Message) (*Message, error) {
	var (
		sb  strings.Builder
		ret = Message{}
	)

	for idx, msg := range msgs {
		if msg == nil {
			return nil, fmt.Errorf("unexpected nil chunk in message stream, index: %d", idx)
		}

		if msg.Role != "" {
			if ret.Role == "" {
				ret.Role = msg.Role
			} else if ret.Role != msg.Role {
				return nil, fmt.Errorf("cannot concat messages with different roles: '%s' '%s'", ret.Role, msg.Role)
			}
		}

		if msg.Name != "" {
			if ret.Name == "" {
				ret.Name = msg.Name
			} else if ret.Name != msg.Name {
				return nil, fmt.Errorf("cannot concat messages with different names: '%s' '%s'", ret.Name, msg.Name)
			}
		}

		sb.WriteString(msg.Content)

		for k, v := range msg.Extra {
			if ret.Extra == nil {
				ret.Extra = make(map[string]any, len(msg.Extra))
			}
			ret.Extra[k] = v
		}

		if msg.ResponseMeta == nil {
			continue
		}
		if ret.ResponseMeta == nil {
			ret.ResponseMeta = &ResponseMeta{}
		}
		if msg.ResponseMeta.FinishReason != "" {
			ret.ResponseMeta.FinishReason = msg.ResponseMeta.FinishReason
		}
		if u := msg.ResponseMeta.Usage; u != nil {
			if ret.ResponseMeta.Usage == nil {
				ret.ResponseMeta.Usage = &TokenUsage{}
			}
			ru := ret.ResponseMeta.Usage
			ru.PromptTokens = max(ru.PromptTokens, u.PromptTokens)
			ru.CompletionTokens = max(ru.CompletionTokens, u.CompletionTokens)
			ru.TotalTokens = max(ru.TotalTokens, u.TotalTokens)
		}
	}

	ret.Content = sb.String()

	return &ret, nil
}

// ConcatMessageStream 读完整个消息流并合并为一条消息，结束后关闭流。
func ConcatMessageStream(s *StreamReader[*Message]) (*Message, error) {
	defer s.Close()

	var msgs []*Message
	for {
		msg, err := s.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}

			return nil, err
		}

		msgs = append(msgs, msg)
	}

	return ConcatMessages(msgs)
}
