package compose

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/chainflow/components"
	"github.com/favbox/chainflow/components/parser"
	"github.com/favbox/chainflow/components/prompt"
	"github.com/favbox/chainflow/internal/generic"
	"github.com/favbox/chainflow/schema"
)

func explainTemplate() *prompt.DefaultChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage("You are a helpful assistant."),
		schema.UserMessage("Explain {topic} in 2-3 sentences."),
	)
}

func TestExplainTopic(t *testing.T) {
	ctx := context.Background()

	var (
		mu       sync.Mutex
		rendered []*schema.Message
	)
	cm := &fakeChatModel{reply: func(in []*schema.Message) (string, error) {
		mu.Lock()
		rendered = in
		mu.Unlock()
		return "echo: " + in[len(in)-1].Content, nil
	}}

	p, err := Compose(
		ChatTemplateStage(explainTemplate()),
		ChatModelStage(cm),
		ParserStage[string](parser.NewStrOutputParser()),
	)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, []string{"Default", "fakeChatModel", "StrOutputParser"}, p.StageNames())

	r, err := Compile[map[string]any, string](p)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, map[string]any{"topic": "caching"})
	require.NoError(t, err)
	assert.Equal(t, "echo: Explain caching in 2-3 sentences.", out)

	// 模板只替换一次，系统消息原样保留
	require.Len(t, rendered, 2)
	assert.Equal(t, schema.System, rendered[0].Role)
	assert.Equal(t, "You are a helpful assistant.", rendered[0].Content)
	assert.Equal(t, schema.User, rendered[1].Role)
	assert.Equal(t, "Explain caching in 2-3 sentences.", rendered[1].Content)
	assert.Equal(t, int32(1), cm.generateCalls.Load())
}

func TestInvokeMatchesStream(t *testing.T) {
	ctx := context.Background()
	cm := &fakeChatModel{}

	r, err := NewChain[map[string]any, string]().
		AppendChatTemplate(explainTemplate()).
		AppendChatModel(cm).
		AppendParser(parser.NewStrOutputParser()).
		Compile(ctx)
	require.NoError(t, err)

	in := map[string]any{"topic": "caching"}

	invoked, err := r.Invoke(ctx, in)
	require.NoError(t, err)

	sr, err := r.Stream(ctx, in)
	require.NoError(t, err)
	chunks, err := readAll(sr)
	require.NoError(t, err)

	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, invoked, strings.Join(chunks, ""))
	assert.Equal(t, int32(1), cm.streamCalls.Load())

	// 流式输入
	inSR, inSW := schema.Pipe[map[string]any](1)
	inSW.Send(in, nil)
	inSW.Close()
	collected, err := r.Collect(ctx, inSR)
	require.NoError(t, err)
	assert.Equal(t, invoked, collected)

	inSR, inSW = schema.Pipe[map[string]any](1)
	inSW.Send(in, nil)
	inSW.Close()
	tr, err := r.Transform(ctx, inSR)
	require.NoError(t, err)
	chunks, err = readAll(tr)
	require.NoError(t, err)
	assert.Equal(t, invoked, strings.Join(chunks, ""))
}

func TestComposeFlatten(t *testing.T) {
	ctx := context.Background()
	a, b, c := appendLambda("a"), appendLambda("b"), appendLambda("c")

	left := MustCompose(MustCompose(a, b), c)
	right := MustCompose(a, MustCompose(b, c))
	then, err := MustCompose(a).Then(b, c)
	require.NoError(t, err)

	for _, p := range []*Pipeline{left, right, then} {
		assert.Equal(t, 3, p.Len())
		assert.Equal(t, []string{"a", "b", "c"}, p.StageNames())
	}

	traceOf := func(p *Pipeline) []string {
		rec := &recorder{}
		r, err := Compile[string, string](p)
		require.NoError(t, err)

		out, err := r.Invoke(ctx, ">", WithCallbacks(rec.handler()))
		require.NoError(t, err)
		assert.Equal(t, ">abc", out)

		return rec.trace()
	}

	assert.Equal(t, traceOf(left), traceOf(right))
	assert.Equal(t, traceOf(left), traceOf(then))

	// Then 不修改原流水线
	base := MustCompose(a)
	_, err = base.Then(b)
	require.NoError(t, err)
	assert.Equal(t, 1, base.Len())
}

func TestEmptyPipeline(t *testing.T) {
	ctx := context.Background()

	empty := MustCompose()
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, generic.TypeOf[any](), empty.InputType())
	assert.Equal(t, generic.TypeOf[any](), empty.OutputType())

	r, err := Compile[string, string](empty)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, "same", out)

	sr, err := r.Stream(ctx, "same")
	require.NoError(t, err)
	chunks, err := readAll(sr)
	require.NoError(t, err)
	assert.Equal(t, []string{"same"}, chunks)

	outs, err := Outputs(r.Batch(ctx, []string{"x", "y"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, outs)

	// 空流水线是组合的单位元
	a := appendLambda("a")
	assert.Equal(t, []string{"a"}, MustCompose(empty, a, empty).StageNames())

	_, err = Compile[string, int](empty)
	var ce *CompositionError
	assert.ErrorAs(t, err, &ce)
}

func TestComposeNilStages(t *testing.T) {
	var (
		nilLambda   *Lambda
		nilPipeline *Pipeline
		nilStage    *Stage
	)

	p, err := Compose(appendLambda("a"), nil, nilLambda, nilPipeline, nilStage, appendLambda("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.StageNames())

	p, err = nilPipeline.Then(appendLambda("c"))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
}

func TestCompositionError(t *testing.T) {
	ctx := context.Background()

	t.Run("compose", func(t *testing.T) {
		_, err := Compose(ChatModelStage(&fakeChatModel{}), ChatTemplateStage(explainTemplate()))
		var ce *CompositionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 1, ce.Position)
		assert.Equal(t, generic.TypeOf[*schema.Message](), ce.From)
		assert.Equal(t, generic.TypeOf[map[string]any](), ce.To)

		assert.Panics(t, func() {
			MustCompose(appendLambda("a"), ChatModelStage(&fakeChatModel{}))
		})
	})

	t.Run("compile", func(t *testing.T) {
		p := MustCompose(ChatTemplateStage(explainTemplate()))

		_, err := Compile[string, []*schema.Message](p)
		var ce *CompositionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 0, ce.Position)

		_, err = Compile[map[string]any, string](p)
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 1, ce.Position)

		_, err = NewChain[map[string]any, string]().
			AppendChatTemplate(explainTemplate()).
			AppendLambda(appendLambda("x")).
			Compile(ctx)
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 1, ce.Position)
	})

	t.Run("runtime", func(t *testing.T) {
		loose := InvokableLambda(func(_ context.Context, s string) (any, error) {
			if s == "num" {
				return 42, nil
			}
			return s, nil
		})
		p, err := Compose(loose, appendLambda("!"))
		require.NoError(t, err)

		r, err := Compile[string, string](p)
		require.NoError(t, err)

		out, err := r.Invoke(ctx, "ok")
		require.NoError(t, err)
		assert.Equal(t, "ok!", out)

		_, err = r.Invoke(ctx, "num")
		var ce *CompositionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 1, ce.Position)
		assert.Equal(t, generic.TypeOf[int](), ce.From)

		_, err = r.Stream(ctx, "num")
		assert.ErrorAs(t, err, &ce)

		results := r.Batch(ctx, []string{"ok", "num"})
		assert.NoError(t, results[0].Err)
		assert.ErrorAs(t, results[1].Err, &ce)
	})
}

func TestStageError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	var thirdCalls int
	p := MustCompose(
		appendLambda("a"),
		InvokableLambda(func(_ context.Context, s string) (string, error) {
			return "", boom
		}, WithStageName("failing")),
		InvokableLambda(func(_ context.Context, s string) (string, error) {
			thirdCalls++
			return s, nil
		}),
	)
	r, err := Compile[string, string](p)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, "")
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Position)
	assert.Equal(t, "failing", se.Name)
	assert.Equal(t, ComponentOfLambda, se.Component)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, thirdCalls)

	// 模板缺少变量
	tr, err := Compile[map[string]any, []*schema.Message](MustCompose(ChatTemplateStage(explainTemplate())))
	require.NoError(t, err)
	_, err = tr.Invoke(ctx, map[string]any{"other": 1})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Position)
	assert.Equal(t, components.ComponentOfPrompt, se.Component)
	var te *schema.TemplateError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, []string{"topic"}, te.Missing)
}

func TestPanicRecovery(t *testing.T) {
	ctx := context.Background()

	p := MustCompose(
		appendLambda("a"),
		InvokableLambda(func(_ context.Context, s string) (string, error) {
			panic("bad input")
		}),
	)
	r, err := Compile[string, string](p)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, "")
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Position)
	assert.Contains(t, err.Error(), "bad input")

	results := r.Batch(ctx, []string{"x"})
	assert.ErrorAs(t, results[0].Err, &se)

	// 流式尾部在逐块转换时 panic
	sp := MustCompose(
		appendLambda("a"),
		TransformableLambda(func(_ context.Context, in *schema.StreamReader[string]) (*schema.StreamReader[string], error) {
			return schema.StreamReaderWithConvert(in, func(string) (string, error) {
				panic("bad chunk")
			}), nil
		}),
	)
	sr, err := Compile[string, string](sp)
	require.NoError(t, err)

	stream, err := sr.Stream(ctx, "x")
	require.NoError(t, err)
	defer stream.Close()

	assert.NotPanics(t, func() { _, err = stream.Recv() })
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Position)
	assert.Contains(t, err.Error(), "bad chunk")

	_, err = sr.Invoke(ctx, "x")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Position)
}

func TestAnyLambda(t *testing.T) {
	_, err := AnyLambda[string, string](nil, nil, nil, nil)
	assert.Error(t, err)

	l, err := AnyLambda[string, string](nil, nil, func(_ context.Context, in *schema.StreamReader[string]) (string, error) {
		chunks, err := readAll(in)
		return strings.Join(chunks, "|"), err
	}, nil)
	require.NoError(t, err)

	r, err := Compile[string, string](MustCompose(l))
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "one")
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	sr := schema.StreamReaderFromArray([]string{"a", "b"})
	out, err = r.Collect(context.Background(), sr)
	require.NoError(t, err)
	assert.Equal(t, "a|b", out)
}
