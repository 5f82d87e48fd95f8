// Package cli 实现 chainflow 命令行，演示流水线的各种用法。
package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/favbox/chainflow/components/model"
	"github.com/favbox/chainflow/compose"
	"github.com/favbox/chainflow/ext/model/groq"
	"github.com/favbox/chainflow/internal/config"
	"github.com/favbox/chainflow/internal/logs"
	cbutils "github.com/favbox/chainflow/utils/callbacks"
)

// ModelFactory 根据配置创建聊天模型。
type ModelFactory func(ctx context.Context, conf *groq.Config) (model.BaseChatModel, error)

func newGroqModel(ctx context.Context, conf *groq.Config) (model.BaseChatModel, error) {
	return groq.NewChatModel(ctx, conf)
}

type app struct {
	envFile  string
	logLevel string
	logJSON  bool

	newModel ModelFactory

	conf   *config.Config
	logger *zap.Logger
	model  model.BaseChatModel
	usage  *usageTracker
}

// NewRootCommand 创建根命令。newModel 为 nil 时使用 Groq。
func NewRootCommand(newModel ModelFactory) *cobra.Command {
	if newModel == nil {
		newModel = newGroqModel
	}
	a := &app{newModel: newModel}

	root := &cobra.Command{
		Use:           "chainflow",
		Short:         "Prompt | model | parser pipelines backed by Groq",
		Long:          `chainflow composes chat templates, a Groq chat model and output parsers into pipelines that run in invoke, batch and stream mode.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", "", "config file (.env, yaml or toml), defaults to ./.env if present")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&a.logJSON, "log-json", false, "emit JSON logs")

	root.AddCommand(
		a.basicCmd(),
		a.promptCmd(),
		a.chainCmd(),
		a.batchCmd(),
		a.streamCmd(),
		a.allCmd(),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	conf, err := config.Load(config.Options{EnvFile: a.envFile})
	if err != nil {
		return err
	}

	// 命令行参数优先于配置
	opts := logs.Options{Level: conf.LogLevel, JSON: conf.LogJSON, Output: cmd.ErrOrStderr()}
	if cmd.Flags().Changed("log-level") {
		opts.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		opts.JSON = a.logJSON
	}
	logger, err := logs.New(opts)
	if err != nil {
		return err
	}

	cm, err := a.newModel(cmd.Context(), conf.ChatModelConfig(logger))
	if err != nil {
		return err
	}

	a.conf, a.logger, a.model = conf, logger, cm
	a.usage = newUsageTracker()

	return nil
}

// options 每次调用携带的选项：日志处理器、用量统计与批处理并发数。
func (a *app) options() []compose.Option {
	return []compose.Option{
		compose.WithCallbacks(cbutils.NewLoggingHandler(a.logger), a.usage.handler()),
		compose.WithBatchConcurrency(a.conf.BatchConcurrency),
	}
}
