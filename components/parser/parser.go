package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/favbox/chainflow/schema"
)

// ParseError 响应缺失或形态不符合预期。
type ParseError struct {
	// Content 解析失败的原始内容，消息为 nil 时为空。
	Content string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errNilMessage = errors.New("nil message")

// StrOutputParser 提取消息的 Content 文本。
type StrOutputParser struct{}

// NewStrOutputParser 创建文本解析器。
func NewStrOutputParser() *StrOutputParser {
	return &StrOutputParser{}
}

// Parse 原样返回 Content。
func (p *StrOutputParser) Parse(_ context.Context, m *schema.Message) (string, error) {
	if m == nil {
		return "", &ParseError{Err: errNilMessage}
	}
	return m.Content, nil
}

// Transform 逐块投影流式响应，每次只持有一个消息块。
// 空内容的块（例如只携带 finish_reason 的结尾块）被跳过。
func (p *StrOutputParser) Transform(_ context.Context, input *schema.StreamReader[*schema.Message]) (*schema.StreamReader[string], error) {
	return schema.StreamReaderWithConvert(input, func(m *schema.Message) (string, error) {
		if m == nil {
			return "", &ParseError{Err: errNilMessage}
		}
		if m.Content == "" {
			return "", schema.ErrNoValue
		}
		return m.Content, nil
	}), nil
}

// GetType 返回解析器类型名。
func (p *StrOutputParser) GetType() string {
	return "StrOutputParser"
}

// JSONOutputParser 把消息内容解析为 T。
// JSON 无法增量解析，流式场景下由流水线拼接完整消息后再调用 Parse。
type JSONOutputParser[T any] struct {
	parser *schema.MessageJSONParser[T]
}

// NewJSONOutputParser 创建 JSON 解析器，keyPath 为空时解析整个内容，否则取嵌套字段，如 "data.answer"。
func NewJSONOutputParser[T any](keyPath string) *JSONOutputParser[T] {
	return &JSONOutputParser[T]{
		parser: schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{ParseKeyPath: keyPath}),
	}
}

// Parse 解析消息内容，格式错误时返回 *ParseError。
func (p *JSONOutputParser[T]) Parse(ctx context.Context, m *schema.Message) (T, error) {
	if m == nil {
		var zero T
		return zero, &ParseError{Err: errNilMessage}
	}

	out, err := p.parser.Parse(ctx, m)
	if err != nil {
		return out, &ParseError{Content: m.Content, Err: err}
	}

	return out, nil
}

// GetType 返回解析器类型名。
func (p *JSONOutputParser[T]) GetType() string {
	return "JSONOutputParser"
}
