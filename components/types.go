package components

// Typer 返回组件实现的类型名称，用于回调与日志中的展示。
// 未实现时使用反射得到的结构体名。
type Typer interface {
	GetType() string
}

// GetType 返回组件实现的类型名称。
func GetType(component any) (string, bool) {
	if typer, ok := component.(Typer); ok {
		return typer.GetType(), true
	}

	return "", false
}

// Component 表示流水线中阶段的组件类型。
type Component string

const (
	// ComponentOfPrompt 提示词模板组件，用于填充槽位生成消息
	ComponentOfPrompt Component = "ChatTemplate"
	// ComponentOfChatModel 聊天模型组件，调用远端生成服务
	ComponentOfChatModel Component = "ChatModel"
	// ComponentOfParser 输出解析器组件，从模型响应中提取结果
	ComponentOfParser Component = "OutputParser"
)
