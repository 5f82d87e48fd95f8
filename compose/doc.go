/*
 * compose 包 - 流水线编排
 *
 * 概述：
 *   把提示词模板、聊天模型、输出解析器与自定义函数按顺序组合为流水线，
 *   组合结果本身也是一个阶段，可以继续参与组合。
 *
 * 构建方式：
 *
 *   1. Compose（函数式）
 *      p, err := compose.Compose(
 *        compose.ChatTemplateStage(tpl),
 *        compose.ChatModelStage(cm),
 *        compose.ParserStage[string](parser.NewStrOutputParser()),
 *      )
 *      r, err := compose.Compile[map[string]any, string](p)
 *
 *   2. Chain（链式）
 *      r, err := compose.NewChain[map[string]any, string]().
 *        AppendChatTemplate(tpl).
 *        AppendChatModel(cm).
 *        AppendParser(parser.NewStrOutputParser()).
 *        Compile(ctx)
 *
 * 执行方式：
 *
 *   1. Invoke：完整输入 → 完整输出，任一阶段失败即返回 *StageError
 *   2. Batch：多个输入并发执行，结果按输入顺序返回，单个失败互不影响；
 *      聊天模型实现了 model.BatchChatModel 时一次调用处理全部输入
 *   3. Stream：完整输入 → 流，末尾连续的原生流式阶段逐块产出，
 *      之前的阶段同步执行
 *   4. Collect / Transform：流式输入
 *
 *   把 Stream 的全部数据块拼接起来，结果与 Invoke 相同。
 *
 * 类型检查：
 *   相邻阶段的类型在 Compose 时检查，不匹配返回 *CompositionError；
 *   上游输出为接口类型时推迟到运行时逐值检查。
 *
 * 回调：
 *   每个阶段开始、结束、出错以及输出流结束时触发回调，
 *   RunInfo 中带有阶段下标与调用阶段（Rendering/Calling/Parsing）；
 *   流水线整体的事件下标为 -1，结束时的调用阶段为 Done 或 Failed。
 *
 * 相关包：
 *   - github.com/favbox/chainflow/components: 组件接口与实现
 *   - github.com/favbox/chainflow/schema: 消息与流
 *   - github.com/favbox/chainflow/callbacks: 回调处理器
 */

package compose
