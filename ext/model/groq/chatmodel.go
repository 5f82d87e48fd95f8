package groq

/*
 * chatmodel.go - Groq 聊天模型
 *
 * 通过 OpenAI 兼容的 POST {BaseURL}/chat/completions 接口调用 Groq：
 *   - Generate：普通 JSON 请求
 *   - Stream：text/event-stream，逐行读取 "data: {...}"，以 "data: [DONE]" 结束
 *
 * 所有失败都转换为 *model.BackendError，不做重试。
 */

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/favbox/chainflow/components/model"
	"github.com/favbox/chainflow/internal/safe"
	"github.com/favbox/chainflow/schema"
)

const (
	// DefaultModel 默认模型。
	DefaultModel = "llama-3.3-70b-versatile"
	// DefaultBaseURL Groq 的 OpenAI 兼容接口地址。
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	// DefaultTimeout 默认请求超时。流式请求只限制等待响应头的时间。
	DefaultTimeout = 60 * time.Second
)

// ErrAPIKeyRequired 未提供 API Key。
var ErrAPIKeyRequired = errors.New("groq: api key is required")

// Config 聊天模型配置，构建后对每次调用生效。
type Config struct {
	// APIKey 必填。
	APIKey string
	// Model 模型 ID，默认 DefaultModel。
	Model string
	// BaseURL 接口地址，默认 DefaultBaseURL。
	BaseURL string

	// Temperature 采样温度，nil 时使用服务端默认值。
	Temperature *float32
	// MaxTokens 最大生成 token 数，nil 时不限制。
	MaxTokens *int
	// TopP 核采样阈值。
	TopP *float32
	// Stop 停止词。
	Stop []string

	// Timeout 请求超时，默认 DefaultTimeout。
	Timeout time.Duration
	// RequestsPerSecond 客户端限流，<= 0 表示不限流。
	RequestsPerSecond float64

	// HTTPClient 自定义 HTTP 客户端，默认新建。
	HTTPClient *http.Client
	// Logger 调试日志，默认不输出。
	Logger *zap.Logger
}

// ChatModel Groq 聊天模型，可被多个 goroutine 并发使用。
type ChatModel struct {
	conf    Config
	cli     *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// NewChatModel 创建 Groq 聊天模型。
func NewChatModel(_ context.Context, conf *Config) (*ChatModel, error) {
	if conf == nil || conf.APIKey == "" {
		return nil, errors.WithHint(ErrAPIKeyRequired, "set GROQ_API_KEY in the environment or in a .env file")
	}

	c := *conf
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	cli := c.HTTPClient
	if cli == nil {
		cli = &http.Client{}
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cm := &ChatModel{
		conf:   c,
		cli:    cli,
		logger: logger.With(zap.String("component", "groq"), zap.String("model", c.Model)),
	}
	if c.RequestsPerSecond > 0 {
		cm.limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), 1)
	}

	return cm, nil
}

// Generate 发送一次请求，返回完整的助手消息。
func (cm *ChatModel) Generate(ctx context.Context, in []*schema.Message) (*schema.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, cm.conf.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := cm.do(ctx, cm.newRequest(in, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewBackendError(0, errors.Wrap(err, "read response"))
	}

	var cr chatResponse
	if err = sonic.Unmarshal(body, &cr); err != nil {
		return nil, model.NewBackendError(resp.StatusCode, errors.Wrap(err, "decode response"))
	}
	if len(cr.Choices) == 0 {
		return nil, model.NewBackendError(resp.StatusCode, errors.New("no choices in response"))
	}

	choice := cr.Choices[0]
	msg := toMessage(choice.Message.Content, choice.FinishReason, cr.usage())

	cm.logger.Debug("groq response",
		zap.Duration("latency", time.Since(start)),
		zap.String("finish_reason", choice.FinishReason),
		zap.Int("content_length", len(msg.Content)),
		usageField(cr.usage()),
	)

	return msg, nil
}

// Stream 发送流式请求，返回的每个消息块携带一段增量内容；
// 用量与结束原因在后端给出时附在对应的块上。提前 Close 会取消请求并释放底层连接。
func (cm *ChatModel) Stream(ctx context.Context, in []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(cm.conf.Timeout, cancel)

	resp, err := cm.do(ctx, cm.newRequest(in, true))
	timer.Stop()
	if err != nil {
		cancel()
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				sw.Send(nil, safe.NewPanicErr(r, debug.Stack()))
			}
			_ = resp.Body.Close()
			cancel()
			sw.Close()
		}()

		cm.readEvents(resp.Body, sw)
	}()

	// 消费方提前关闭时取消请求，阻塞在读取响应体上的 goroutine 随之退出
	return schema.StreamReaderWithConvert(sr, func(m *schema.Message) (*schema.Message, error) {
		return m, nil
	}, schema.WithOnDone(func(err error) {
		if errors.Is(err, schema.ErrStreamClosed) {
			cancel()
		}
	})), nil
}

// GetType 实现 components.Typer。
func (cm *ChatModel) GetType() string {
	return "Groq"
}

func (cm *ChatModel) newRequest(in []*schema.Message, stream bool) *chatRequest {
	req := &chatRequest{
		Model:       cm.conf.Model,
		Messages:    make([]chatMessage, 0, len(in)),
		Temperature: cm.conf.Temperature,
		MaxTokens:   cm.conf.MaxTokens,
		TopP:        cm.conf.TopP,
		Stop:        cm.conf.Stop,
		Stream:      stream,
	}
	if stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	for _, m := range in {
		if m == nil {
			continue
		}
		req.Messages = append(req.Messages, chatMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		})
	}

	return req
}

// do 发送请求，非 2xx 响应转换为 BackendError。调用方负责关闭返回的 Body。
func (cm *ChatModel) do(ctx context.Context, req *chatRequest) (*http.Response, error) {
	if cm.limiter != nil {
		if err := cm.limiter.Wait(ctx); err != nil {
			return nil, model.NewBackendError(0, errors.Wrap(err, "wait for rate limiter"))
		}
	}

	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, &model.BackendError{Kind: model.KindRequest, Err: errors.Wrap(err, "encode request")}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cm.conf.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &model.BackendError{Kind: model.KindRequest, Err: errors.Wrap(err, "create request")}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cm.conf.APIKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	cm.logger.Debug("groq request",
		zap.Int("messages", len(req.Messages)),
		zap.Bool("stream", req.Stream),
	)

	resp, err := cm.cli.Do(httpReq)
	if err != nil {
		return nil, model.NewBackendError(0, errors.Wrap(err, "send request"))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()

		apiErr := readAPIError(resp)
		cm.logger.Debug("groq request failed", zap.Int("status", resp.StatusCode), zap.Error(apiErr))
		return nil, model.NewBackendError(resp.StatusCode, apiErr)
	}

	return resp, nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var er errorResponse
	if err := sonic.Unmarshal(body, &er); err == nil && er.Error != nil && er.Error.Message != "" {
		return errors.Newf("groq api error (%s): %s", er.Error.Type, er.Error.Message)
	}

	return errors.Newf("groq api error: %s", strings.TrimSpace(string(body)))
}

// readEvents 逐行解析事件流并写入 sw，直到 [DONE]、出错或消费方关闭。
func (cm *ChatModel) readEvents(body io.Reader, sw *schema.StreamWriter[*schema.Message]) {
	start := time.Now()

	var (
		chunks int
		last   *chatUsage
		finish string
	)

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "data:")
		if !ok {
			// 空行、注释以及 event/id 字段
			continue
		}

		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			cm.logger.Debug("groq stream done",
				zap.Duration("latency", time.Since(start)),
				zap.Int("chunks", chunks),
				zap.String("finish_reason", finish),
				usageField(last),
			)
			return
		}

		var cr chatResponse
		if err := sonic.UnmarshalString(data, &cr); err != nil {
			sw.Send(nil, &model.BackendError{Kind: model.KindRequest, Err: errors.Wrap(err, "decode stream chunk")})
			return
		}
		if cr.Error != nil {
			sw.Send(nil, model.NewBackendError(http.StatusInternalServerError,
				errors.Newf("groq stream error (%s): %s", cr.Error.Type, cr.Error.Message)))
			return
		}

		msg := chunkMessage(&cr)
		if msg == nil {
			continue
		}
		if msg.ResponseMeta != nil {
			if msg.ResponseMeta.FinishReason != "" {
				finish = msg.ResponseMeta.FinishReason
			}
			if u := cr.usage(); u != nil {
				last = u
			}
		}

		if closed := sw.Send(msg, nil); closed {
			cm.logger.Debug("groq stream closed by consumer", zap.Int("chunks", chunks))
			return
		}
		chunks++
	}

	if err := sc.Err(); err != nil {
		sw.Send(nil, model.NewBackendError(0, errors.Wrap(err, "read stream")))
		return
	}

	sw.Send(nil, model.NewBackendError(0, errors.New("stream ended before [DONE]")))
}

// chunkMessage 把流式响应块转换为消息块，不携带任何信息的块（例如只有角色的首块）返回 nil。
func chunkMessage(cr *chatResponse) *schema.Message {
	var content, finish string
	if len(cr.Choices) > 0 {
		content = cr.Choices[0].Delta.Content
		finish = cr.Choices[0].FinishReason
	}

	u := cr.usage()
	if content == "" && finish == "" && u == nil {
		return nil
	}

	return toMessage(content, finish, u)
}

func toMessage(content, finish string, u *chatUsage) *schema.Message {
	msg := schema.AssistantMessage(content)
	if finish == "" && u == nil {
		return msg
	}

	msg.ResponseMeta = &schema.ResponseMeta{FinishReason: finish}
	if u != nil {
		msg.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}

	return msg
}

func usageField(u *chatUsage) zap.Field {
	if u == nil {
		return zap.Skip()
	}
	return zap.Dict("usage",
		zap.Int("prompt_tokens", u.PromptTokens),
		zap.Int("completion_tokens", u.CompletionTokens),
		zap.Int("total_tokens", u.TotalTokens),
	)
}
