// Package callbacks 提供阶段执行过程中的回调机制。
//
// 处理器在每个阶段开始、结束、出错以及输出流结束时被调用，
// 用于日志、指标采集等治理功能，与阶段自身的逻辑解耦。
//
// 用法：
//
//	handler := callbacks.NewHandlerBuilder().
//		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
//			log.Printf("stage %d (%s) started in phase %s", info.Position, info.Name, info.Phase)
//			return ctx
//		}).
//		Build()
//
//	out, err := runnable.Invoke(ctx, input, compose.WithCallbacks(handler))
//
// 流水线整体也会触发一组回调，此时 RunInfo.Position 为 -1，
// 开始时 Phase 为 Idle，结束时为 Done 或 Failed。
package callbacks
