package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// MessageParser 将消息解析为指定类型对象。
type MessageParser[T any] interface {
	Parse(ctx context.Context, m *Message) (T, error)
}

// MessageJSONParseConfig JSON 消息解析配置。
type MessageJSONParseConfig struct {
	// ParseKeyPath JSON 字段路径，支持嵌套字段，如 "field.sub_field"。为空时解析整个内容。
	ParseKeyPath string `json:"parse_key_path,omitempty"`
}

// NewMessageJSONParser 创建 MessageJSONParser，config 可为 nil。
func NewMessageJSONParser[T any](config *MessageJSONParseConfig) *MessageJSONParser[T] {
	if config == nil {
		config = &MessageJSONParseConfig{}
	}

	return &MessageJSONParser[T]{ParseKeyPath: config.ParseKeyPath}
}

// MessageJSONParser 用 sonic 把消息内容反序列化为 T。
type MessageJSONParser[T any] struct {
	ParseKeyPath string
}

// Parse 解析消息内容。
func (p *MessageJSONParser[T]) Parse(_ context.Context, m *Message) (parsed T, err error) {
	if m == nil {
		return parsed, fmt.Errorf("nil message")
	}

	return p.ParseString(m.Content)
}

// ParseString 解析 JSON 文本，供流式场景在拼接完整内容后调用。
func (p *MessageJSONParser[T]) ParseString(data string) (parsed T, err error) {
	data, err = p.extractData(data)
	if err != nil {
		return parsed, err
	}

	if err = sonic.UnmarshalString(data, &parsed); err != nil {
		return parsed, fmt.Errorf("unmarshal json: %w", err)
	}

	return parsed, nil
}

func (p *MessageJSONParser[T]) extractData(data string) (string, error) {
	if p.ParseKeyPath == "" {
		return data, nil
	}

	keys := strings.Split(p.ParseKeyPath, ".")
	path := make([]any, len(keys))
	for i, key := range keys {
		path[i] = key
	}

	node, err := sonic.GetFromString(data, path...)
	if err != nil {
		return "", fmt.Errorf("get json path %q: %w", p.ParseKeyPath, err)
	}

	raw, err := node.Raw()
	if err != nil {
		return "", fmt.Errorf("read json node at %q: %w", p.ParseKeyPath, err)
	}

	return raw, nil
}
