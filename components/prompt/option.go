package prompt

// Option ChatTemplate 的调用选项，用于承载各模板实现自定义的配置。
type Option struct {
	implSpecificOptFn any
}

// WrapImplSpecificOptFn 把实现特定的选项函数包装为 Option。
//
// 示例：
//
//	type CustomTemplateOption struct {
//		Culture string
//	}
//
//	func WithCulture(culture string) prompt.Option {
//		return prompt.WrapImplSpecificOptFn(func(o *CustomTemplateOption) {
//			o.Culture = culture
//		})
//	}
func WrapImplSpecificOptFn[T any](optFn func(*T)) Option {
	return Option{
		implSpecificOptFn: optFn,
	}
}

// GetImplSpecificOptions 从选项列表中提取实现特定的选项，base 提供默认值。
func GetImplSpecificOptions[T any](base *T, opts ...Option) *T {
	if base == nil {
		base = new(T)
	}

	for i := range opts {
		if s, ok := opts[i].implSpecificOptFn.(func(*T)); ok {
			s(base)
		}
	}

	return base
}
