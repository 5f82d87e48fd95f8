// Package parser 提供输出解析器组件，从模型响应中提取规范化结果。
//
// 解析器只做结构投影：不裁剪空白，不推断语言，原样保留生成内容。
package parser
