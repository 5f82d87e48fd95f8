// Package groq 基于 Groq 的 OpenAI 兼容接口实现 model.BaseChatModel。
//
// 示例：
//
//	cm, err := groq.NewChatModel(ctx, &groq.Config{
//		APIKey:      os.Getenv("GROQ_API_KEY"),
//		Model:       "llama-3.3-70b-versatile",
//		Temperature: &temperature,
//	})
//
//	msg, err := cm.Generate(ctx, []*schema.Message{schema.UserMessage("What is LangChain?")})
//
// 失败统一返回 *model.BackendError，按 HTTP 状态码归类，可用 model.IsRetryable 判断是否值得重试。
package groq
