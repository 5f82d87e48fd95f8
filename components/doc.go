// Package components 定义流水线阶段可用的基本组件。
//
// 该包提供了组件系统的基础类型和接口。包括：
//   - Typer：组件类型标识接口，用于获取组件实现类型名称
//   - Component：组件类型常量枚举，定义了所有支持的组件类型
//
// 具体组件位于子包：prompt（提示词模板）、model（聊天模型）、parser（输出解析器）。
package components
