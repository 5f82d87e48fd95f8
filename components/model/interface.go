package model

import (
	"context"

	"github.com/favbox/chainflow/schema"
)

// BaseChatModel 基础聊天模型接口。
//
// Generate 为阻塞的单次请求；Stream 返回拉取式的单消费者流，
// 每个消息块携带一段增量 Content，流以 io.EOF 结束。
// 消费方可以提前 Close，释放底层连接，不影响后续调用。
type BaseChatModel interface {
	Generate(ctx context.Context, input []*schema.Message) (*schema.Message, error)
	Stream(ctx context.Context, input []*schema.Message) (*schema.StreamReader[*schema.Message], error)
}

// BatchChatModel 支持原生批量调用的聊天模型。
//
// GenerateBatch 的结果与输入一一对应、顺序一致，对同一输入必须与 Generate 结果相同。
// 返回错误时视为整批失败。
type BatchChatModel interface {
	BaseChatModel
	GenerateBatch(ctx context.Context, inputs [][]*schema.Message) ([]*schema.Message, error)
}
