// Package logs 构建进程使用的 zap 日志器。
package logs

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options 日志选项。
type Options struct {
	// Level 日志级别：debug、info、warn、error，默认 info。
	Level string
	// JSON 为 true 时输出 JSON，便于机器采集；否则输出便于阅读的控制台格式。
	JSON bool
	// Output 输出目标，默认 os.Stderr，避免与命令的标准输出混在一起。
	Output io.Writer
}

// New 按选项创建日志器。
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(opts.Level); err != nil {
			return nil, errors.Wrapf(err, "parse log level %q", opts.Level)
		}
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var enc zapcore.Encoder
	if opts.JSON {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
	return zap.New(core), nil
}

// Nop 不输出任何内容的日志器。
func Nop() *zap.Logger {
	return zap.NewNop()
}
