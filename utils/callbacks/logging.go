package callbacks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/favbox/chainflow/callbacks"
)

type runIDKey struct{}

type startKey struct{}

// RunID 返回流水线调用的运行 ID，由 NewLoggingHandler 在流水线开始时写入上下文。
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

// NewLoggingHandler 创建结构化日志回调处理器。
//
// 流水线开始时（Position 为 -1）生成运行 ID，同一次调用内各阶段的日志都携带该 ID。
// 阶段开始记 Debug，结束记 Info 并附带耗时，失败记 Error。
//
//	r.Invoke(ctx, in, compose.WithCallbacks(callbacks.NewLoggingHandler(logger)))
func NewLoggingHandler(logger *zap.Logger) callbacks.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &loggingHandler{logger: logger}

	return callbacks.NewHandlerBuilder().
		OnStartFn(l.onStart).
		OnEndFn(l.onEnd).
		OnErrorFn(l.onError).
		OnStreamEndFn(l.onStreamEnd).
		Build()
}

type loggingHandler struct {
	logger *zap.Logger
}

func (l *loggingHandler) onStart(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
	if info.Position < 0 {
		if _, ok := RunID(ctx); !ok {
			ctx = context.WithValue(ctx, runIDKey{}, uuid.NewString())
		}
	}
	ctx = context.WithValue(ctx, startKey{}, time.Now())

	l.logger.Debug("stage start", l.fields(ctx, info)...)
	return ctx
}

func (l *loggingHandler) onEnd(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
	l.logger.Info("stage end", append(l.fields(ctx, info), latency(ctx))...)
	return ctx
}

func (l *loggingHandler) onError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	l.logger.Error("stage failed", append(l.fields(ctx, info), latency(ctx), zap.Error(err))...)
	return ctx
}

func (l *loggingHandler) onStreamEnd(ctx context.Context, info *callbacks.RunInfo, err error) {
	fields := append(l.fields(ctx, info), latency(ctx))
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.logger.Info("stream end", fields...)
}

func (l *loggingHandler) fields(ctx context.Context, info *callbacks.RunInfo) []zap.Field {
	fields := make([]zap.Field, 0, 8)
	if id, ok := RunID(ctx); ok {
		fields = append(fields, zap.String("run_id", id))
	}
	return append(fields,
		zap.Int("position", info.Position),
		zap.String("phase", string(info.Phase)),
		zap.String("component", string(info.Component)),
		zap.String("name", info.Name),
		zap.String("type", info.Type),
	)
}

func latency(ctx context.Context) zap.Field {
	start, ok := ctx.Value(startKey{}).(time.Time)
	if !ok {
		return zap.Skip()
	}
	return zap.Duration("latency", time.Since(start))
}
