// Package model 定义聊天模型组件的调用契约。
//
// 模型组件负责把渲染好的消息列表发送给远端生成服务，并返回生成结果。
//
// 主要接口：
//
//   - BaseChatModel：基础聊天模型接口，定义了 Generate 和 Stream 两个核心方法
//   - BatchChatModel：可选的原生批量接口，一次逻辑调用处理多组输入
//
// 模型标识、温度、最大 token 数等生成参数在构造时确定，对每次调用生效；
// 调用失败统一返回 *BackendError，引擎内部不做重试。
package model
