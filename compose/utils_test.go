package compose

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/favbox/chainflow/callbacks"
	"github.com/favbox/chainflow/components"
	"github.com/favbox/chainflow/schema"
)

// fakeChatModel 回显最后一条消息，流式输出按空格切块。
type fakeChatModel struct {
	// reply 自定义回复，为空时回显
	reply func(in []*schema.Message) (string, error)
	// failAfter 流式输出在第 failAfter 块之后返回 streamErr
	failAfter int
	streamErr error

	generateCalls atomic.Int32
	streamCalls   atomic.Int32
}

func (m *fakeChatModel) answer(in []*schema.Message) (string, error) {
	if m.reply != nil {
		return m.reply(in)
	}
	return "echo: " + in[len(in)-1].Content, nil
}

func (m *fakeChatModel) Generate(_ context.Context, in []*schema.Message) (*schema.Message, error) {
	m.generateCalls.Add(1)

	text, err := m.answer(in)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text), nil
}

func (m *fakeChatModel) Stream(_ context.Context, in []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	m.streamCalls.Add(1)

	text, err := m.answer(in)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(text, " ")
	sr, sw := schema.Pipe[*schema.Message](0)
	go func() {
		defer sw.Close()
		for idx, w := range words {
			if m.streamErr != nil && idx == m.failAfter {
				sw.Send(nil, m.streamErr)
				return
			}
			if sw.Send(schema.AssistantMessage(w), nil) {
				return
			}
		}
	}()

	return sr, nil
}

// fakeBatchModel 支持原生批量调用。
type fakeBatchModel struct {
	fakeChatModel

	batchErr   error
	dropOne    bool
	batchCalls atomic.Int32
	batchSizes []int
	mu         sync.Mutex
}

func (m *fakeBatchModel) GenerateBatch(_ context.Context, ins [][]*schema.Message) ([]*schema.Message, error) {
	m.batchCalls.Add(1)
	m.mu.Lock()
	m.batchSizes = append(m.batchSizes, len(ins))
	m.mu.Unlock()

	if m.batchErr != nil {
		return nil, m.batchErr
	}

	outs := make([]*schema.Message, 0, len(ins))
	for _, in := range ins {
		text, err := m.answer(in)
		if err != nil {
			return nil, err
		}
		outs = append(outs, schema.AssistantMessage(text))
	}
	if m.dropOne {
		outs = outs[1:]
	}

	return outs, nil
}

// endlessModel 流式输出几乎不会结束，用于验证提前关闭会停止生产。
type endlessModel struct {
	sent atomic.Int32
	done chan struct{}
}

func newEndlessModel() *endlessModel {
	return &endlessModel{done: make(chan struct{})}
}

func (m *endlessModel) Generate(_ context.Context, _ []*schema.Message) (*schema.Message, error) {
	return nil, errors.New("not supported")
}

func (m *endlessModel) Stream(_ context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](0)
	go func() {
		defer close(m.done)
		defer sw.Close()
		for range 100000 {
			if sw.Send(schema.AssistantMessage("tick "), nil) {
				return
			}
			m.sent.Add(1)
		}
	}()

	return sr, nil
}

type event struct {
	timing    string
	position  int
	phase     Phase
	component components.Component
	name      string
	err       error
}

// recorder 按触发顺序记录回调事件。
type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(timing string, info *callbacks.RunInfo, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event{
		timing:    timing,
		position:  info.Position,
		phase:     info.Phase,
		component: info.Component,
		name:      info.Name,
		err:       err,
	})
}

func (r *recorder) handler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			r.add("start", info, nil)
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			r.add("end", info, nil)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			r.add("error", info, err)
			return ctx
		}).
		OnStreamEndFn(func(_ context.Context, info *callbacks.RunInfo, err error) {
			r.add("stream_end", info, err)
		}).
		Build()
}

// trace 返回「时机@下标:调用阶段」序列。
func (r *recorder) trace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	for idx, e := range r.events {
		out[idx] = e.timing + "@" + strconv.Itoa(e.position) + ":" + string(e.phase)
	}
	return out
}

// appendLambda 在字符串末尾追加 suffix。
func appendLambda(suffix string) *Lambda {
	return InvokableLambda(func(_ context.Context, s string) (string, error) {
		return s + suffix, nil
	}, WithStageName(suffix))
}

func readAll[T any](sr *schema.StreamReader[T]) ([]T, error) {
	defer sr.Close()

	var chunks []T
	for {
		chunk, err := sr.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return chunks, nil
			}
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}
