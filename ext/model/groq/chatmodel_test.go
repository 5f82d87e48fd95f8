package groq

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/favbox/chainflow/components/model"
	"github.com/favbox/chainflow/schema"
)

func newTestModel(t *testing.T, handler http.HandlerFunc, opts ...func(*Config)) *ChatModel {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conf := &Config{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()}
	for _, opt := range opts {
		opt(conf)
	}

	cm, err := NewChatModel(context.Background(), conf)
	require.NoError(t, err)

	return cm
}

func decodeRequest(t *testing.T, r *http.Request) *chatRequest {
	t.Helper()

	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)

	var req chatRequest
	require.NoError(t, sonic.Unmarshal(body, &req))
	return &req
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", e)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func TestNewChatModel(t *testing.T) {
	_, err := NewChatModel(context.Background(), &Config{})
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
	assert.NotEmpty(t, errors.GetAllHints(err))

	_, err = NewChatModel(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAPIKeyRequired)

	cm, err := NewChatModel(context.Background(), &Config{APIKey: "k", BaseURL: "http://example.com/v1/"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cm.conf.Model)
	assert.Equal(t, "http://example.com/v1", cm.conf.BaseURL)
	assert.Equal(t, DefaultTimeout, cm.conf.Timeout)
	assert.Nil(t, cm.limiter)
	assert.Equal(t, "Groq", cm.GetType())
}

func TestGenerate(t *testing.T) {
	temperature := float32(0.7)
	maxTokens := 256

	cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		req := decodeRequest(t, r)
		assert.Equal(t, DefaultModel, req.Model)
		assert.False(t, req.Stream)
		require.NotNil(t, req.Temperature)
		assert.Equal(t, temperature, *req.Temperature)
		require.NotNil(t, req.MaxTokens)
		assert.Equal(t, maxTokens, *req.MaxTokens)
		assert.Equal(t, []chatMessage{
			{Role: "system", Content: "You are a helpful assistant."},
			{Role: "user", Content: "What is LangChain?"},
		}, req.Messages)

		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "llama-3.3-70b-versatile",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "A framework."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}, func(c *Config) {
		c.Temperature = &temperature
		c.MaxTokens = &maxTokens
	})

	msg, err := cm.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("You are a helpful assistant."),
		schema.UserMessage("What is LangChain?"),
	})
	require.NoError(t, err)

	assert.Equal(t, schema.Assistant, msg.Role)
	assert.Equal(t, "A framework.", msg.Content)
	require.NotNil(t, msg.ResponseMeta)
	assert.Equal(t, "stop", msg.ResponseMeta.FinishReason)
	assert.Equal(t, &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, msg.ResponseMeta.Usage)
}

func TestGenerateErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		kind      model.ErrorKind
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`, model.KindAuthentication, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"tokens"}}`, model.KindRateLimit, true},
		{"server", http.StatusServiceUnavailable, `upstream unavailable`, model.KindServer, true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"model not found","type":"invalid_request_error"}}`, model.KindRequest, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})

			_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})

			var be *model.BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tc.kind, be.Kind)
			assert.Equal(t, tc.status, be.StatusCode)
			assert.Equal(t, tc.retryable, model.IsRetryable(err))
		})
	}

	t.Run("message surfaces", func(t *testing.T) {
		cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, cases[3].body)
		})
		_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
		assert.ErrorContains(t, err, "model not found")
	})

	t.Run("connectivity", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		cm, err := NewChatModel(context.Background(), &Config{APIKey: "k", BaseURL: url})
		require.NoError(t, err)

		_, err = cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
		var be *model.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, model.KindConnectivity, be.Kind)
		assert.True(t, be.Retryable)
	})

	t.Run("no choices", func(t *testing.T) {
		cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"id":"x","choices":[]}`)
		})
		_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
		var be *model.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, model.KindRequest, be.Kind)
	})
}

func TestStream(t *testing.T) {
	cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.True(t, req.Stream)
		require.NotNil(t, req.StreamOptions)
		assert.True(t, req.StreamOptions.IncludeUsage)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		writeSSE(w,
			`{"choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"Roses "}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"are "}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"red."},"finish_reason":"stop"}]}`,
			`{"choices":[],"x_groq":{"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}}`,
			`[DONE]`,
		)
	})

	sr, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("poem")})
	require.NoError(t, err)
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	// 只有角色的首块被跳过
	require.Len(t, chunks, 4)
	assert.Equal(t, "Roses ", chunks[0].Content)
	assert.Empty(t, chunks[3].Content)

	full, err := schema.ConcatMessages(chunks)
	require.NoError(t, err)
	assert.Equal(t, "Roses are red.", full.Content)
	assert.Equal(t, "stop", full.ResponseMeta.FinishReason)
	assert.Equal(t, 8, full.ResponseMeta.Usage.TotalTokens)
}

func TestStreamErrors(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
			writeSSE(w, `{"choices":[{"index":0,"delta":{"content":"half"}}]}`)
		})

		sr, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
		require.NoError(t, err)
		defer sr.Close()

		chunk, err := sr.Recv()
		require.NoError(t, err)
		assert.Equal(t, "half", chunk.Content)

		_, err = sr.Recv()
		var be *model.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, model.KindConnectivity, be.Kind)
	})

	t.Run("error event", func(t *testing.T) {
		cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
			writeSSE(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
		})

		sr, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
		require.NoError(t, err)
		defer sr.Close()

		_, err = sr.Recv()
		var be *model.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, model.KindServer, be.Kind)
		assert.ErrorContains(t, err, "overloaded")
	})

	t.Run("status before stream", func(t *testing.T) {
		cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
		var be *model.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, model.KindAuthentication, be.Kind)
	})
}

func TestStreamEarlyClose(t *testing.T) {
	var served atomic.Int32
	release := make(chan struct{})

	cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"%d \"}}]}\n\n", i); err != nil {
				return
			}
			flusher.Flush()

			select {
			case <-r.Context().Done():
				return
			case <-release:
				return
			case <-time.After(time.Millisecond):
			}
		}
	})
	defer close(release)

	sr, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("count")})
	require.NoError(t, err)

	chunk, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "0 ", chunk.Content)
	sr.Close()

	// 关闭后模型仍可继续使用
	quick := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"choices":[{"index":0,"delta":{"content":"ok"}}]}`, `[DONE]`)
	})
	msg, err := schema.ConcatMessageStream(mustStream(t, quick))
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, int32(1), served.Load())
}

// 服务端发出一个块后停住，关闭读取器应取消请求，而不是等待下一个块
func TestStreamCloseCancelsStalledRequest(t *testing.T) {
	canceled := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSEChunk(w, `{"choices":[{"index":0,"delta":{"content":"first"}}]}`)

		select {
		case <-r.Context().Done():
			close(canceled)
		case <-release:
		}
	})

	sr, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("stall")})
	require.NoError(t, err)

	chunk, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", chunk.Content)
	sr.Close()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("request was not canceled after the reader was closed")
	}
}

func writeSSEChunk(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	w.(http.Flusher).Flush()
}

func mustStream(t *testing.T, cm *ChatModel) *schema.StreamReader[*schema.Message] {
	t.Helper()

	sr, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	return sr
}

func TestRateLimit(t *testing.T) {
	var hits atomic.Int32
	cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}, func(c *Config) {
		c.RequestsPerSecond = 0.5
	})
	require.NotNil(t, cm.limiter)

	_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)

	// 令牌已用完，等待会超过截止时间
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cm.Generate(ctx, []*schema.Message{schema.UserMessage("hi")})

	var be *model.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, model.KindConnectivity, be.Kind)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDebugLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	cm := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}, func(c *Config) {
		c.Logger = zap.New(core)
	})

	_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("groq request").Len())
	resp := logs.FilterMessage("groq response").All()
	require.Len(t, resp, 1)
	assert.Equal(t, "stop", resp[0].ContextMap()["finish_reason"])
	assert.Equal(t, "groq", resp[0].ContextMap()["component"])
}
