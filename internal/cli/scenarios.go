package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/favbox/chainflow/components/parser"
	"github.com/favbox/chainflow/components/prompt"
	"github.com/favbox/chainflow/compose"
	"github.com/favbox/chainflow/schema"
)

const ruler = "============================================================"

func (a *app) basicCmd() *cobra.Command {
	var question string
	cmd := &cobra.Command{
		Use:   "basic",
		Short: "Call the model directly with a question",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBasic(cmd.Context(), cmd.OutOrStdout(), question)
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "What is LangChain?", "question to ask")
	return cmd
}

func (a *app) promptCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Render a prompt template, print it and send it to the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPrompt(cmd.Context(), cmd.OutOrStdout(), topic)
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "Retrieval-Augmented Generation", "topic to explain")
	return cmd
}

func (a *app) chainCmd() *cobra.Command {
	var language, task string
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Run template | model | parser in invoke mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runChain(cmd.Context(), cmd.OutOrStdout(), language, task)
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "Python", "programming language")
	cmd.Flags().StringVar(&task, "task", "reading a CSV file with pandas", "task to show code for")
	return cmd
}

func (a *app) batchCmd() *cobra.Command {
	var countries []string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Ask for the capital of several countries in one batch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBatch(cmd.Context(), cmd.OutOrStdout(), countries)
		},
	}
	cmd.Flags().StringSliceVarP(&countries, "country", "c", []string{"France", "Japan", "Brazil"}, "countries to ask about")
	return cmd
}

func (a *app) streamCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream a short poem chunk by chunk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStream(cmd.Context(), cmd.OutOrStdout(), subject)
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "artificial intelligence", "what the poem is about")
	return cmd
}

func (a *app) allCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every example in order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()

			fmt.Fprintln(out, ruler)
			fmt.Fprintln(out, "chainflow - pipeline examples")
			fmt.Fprintln(out, ruler)

			steps := []func() error{
				func() error { return a.runBasic(ctx, out, "What is LangChain?") },
				func() error { return a.runPrompt(ctx, out, "Retrieval-Augmented Generation") },
				func() error { return a.runChain(ctx, out, "Python", "reading a CSV file with pandas") },
				func() error { return a.runBatch(ctx, out, []string{"France", "Japan", "Brazil"}) },
				func() error { return a.runStream(ctx, out, "artificial intelligence") },
			}
			for _, step := range steps {
				if err := step(); err != nil {
					return err
				}
			}

			fmt.Fprintln(out, ruler)
			fmt.Fprintln(out, "All examples completed successfully!")
			fmt.Fprintln(out, ruler)
			return nil
		},
	}
}

func (a *app) header(out io.Writer, title string) {
	a.usage.reset()
	fmt.Fprintf(out, "\n=== %s ===\n", title)
}

func (a *app) footer(out io.Writer) {
	fmt.Fprintf(out, "(%s)\n", a.usage.summary())
}

func (a *app) runBasic(ctx context.Context, out io.Writer, question string) error {
	a.header(out, "Basic model call")

	r, err := compose.NewChain[string, *schema.Message]().
		AppendLambda(compose.ToUserMessages()).
		AppendChatModel(a.model).
		Compile(ctx)
	if err != nil {
		return err
	}

	msg, err := r.Invoke(ctx, question, a.options()...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Response: %s\n\n", msg.Content)
	a.footer(out)
	return nil
}

func (a *app) runPrompt(ctx context.Context, out io.Writer, topic string) error {
	a.header(out, "Prompt template")

	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage("You are a helpful assistant that explains technical concepts in simple terms."),
		schema.UserMessage("Explain {topic} in 2-3 sentences."),
	)

	msgs, err := tpl.Format(ctx, map[string]any{"topic": topic})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Formatted prompt:")
	for _, m := range msgs {
		fmt.Fprintf(out, "  %s\n", m)
	}
	fmt.Fprintln(out)

	r, err := compose.NewChain[[]*schema.Message, *schema.Message]().
		AppendChatModel(a.model).
		Compile(ctx)
	if err != nil {
		return err
	}

	msg, err := r.Invoke(ctx, msgs, a.options()...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Response: %s\n\n", msg.Content)
	a.footer(out)
	return nil
}

func (a *app) runChain(ctx context.Context, out io.Writer, language, task string) error {
	a.header(out, "Template | model | parser")

	r, err := compose.NewChain[map[string]any, string]().
		AppendChatTemplate(prompt.FromMessages(schema.FString,
			schema.SystemMessage("You are a coding assistant that provides concise code examples."),
			schema.UserMessage("Show me a {language} code example for {task}"),
		)).
		AppendChatModel(a.model).
		AppendParser(parser.NewStrOutputParser()).
		Compile(ctx)
	if err != nil {
		return err
	}

	result, err := r.Invoke(ctx, map[string]any{"language": language, "task": task}, a.options()...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Chain result:\n%s\n\n", result)
	a.footer(out)
	return nil
}

func (a *app) runBatch(ctx context.Context, out io.Writer, countries []string) error {
	a.header(out, "Batch")

	r, err := a.textChain(ctx, "What is the capital of {country}?")
	if err != nil {
		return err
	}

	inputs := make([]map[string]any, len(countries))
	for i, c := range countries {
		inputs[i] = map[string]any{"country": c}
	}

	results := r.Batch(ctx, inputs, a.options()...)
	for i, res := range results {
		if res.Err != nil {
			fmt.Fprintf(out, "%s: error: %v\n", countries[i], res.Err)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", countries[i], strings.TrimSpace(res.Output))
	}
	fmt.Fprintln(out)
	a.footer(out)

	return compose.FirstError(results)
}

func (a *app) runStream(ctx context.Context, out io.Writer, subject string) error {
	a.header(out, "Streaming")

	r, err := a.textChain(ctx, "Write a short poem about {subject}")
	if err != nil {
		return err
	}

	sr, err := r.Stream(ctx, map[string]any{"subject": subject}, a.options()...)
	if err != nil {
		return err
	}
	defer sr.Close()

	fmt.Fprintf(out, "Streaming response for '%s':\n", subject)
	for {
		chunk, err := sr.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		fmt.Fprint(out, chunk)
	}
	fmt.Fprint(out, "\n\n")
	a.footer(out)

	return nil
}

// textChain 单句模板 | 模型 | 字符串解析器。
func (a *app) textChain(ctx context.Context, text string) (compose.Runnable[map[string]any, string], error) {
	return compose.NewChain[map[string]any, string]().
		AppendChatTemplate(prompt.FromTemplate(schema.FString, text)).
		AppendChatModel(a.model).
		AppendParser(parser.NewStrOutputParser()).
		Compile(ctx)
}
