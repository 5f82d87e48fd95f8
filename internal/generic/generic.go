package generic

import (
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

// TypeOf 返回 T 的 reflect.Type，T 为接口类型时同样有效。
//
// 示例:
//
//	TypeOf[int]()     // int
//	TypeOf[error]()   // error（而非 nil）
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// PtrOf 返回 v 的指针，用于可选配置字段。
func PtrOf[T any](v T) *T {
	return &v
}

// Reverse 返回逆序后的新切片，不修改入参。
func Reverse[S ~[]E, E any](s S) S {
	d := make(S, len(s))
	for i := 0; i < len(s); i++ {
		d[i] = s[len(s)-i-1]
	}

	return d
}

// IsNil v 为 nil，或为持有 nil 的指针、map、切片、函数、channel 时返回 true。
func IsNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// ZeroOf 返回 T 的零值。
func ZeroOf[T any]() T {
	var t T
	return t
}

var (
	regOfAnonymousFunc = regexp.MustCompile(`^func[0-9]+`)
	regOfNumber        = regexp.MustCompile(`^\d+$`)
)

// ParseTypeName 返回值的类型名称，用作阶段的默认实现名。
// 自动解引用指针；函数值返回函数名，匿名函数返回空串。
//
// 示例:
//
//	ParseTypeName(reflect.ValueOf(&StrOutputParser{})) // "StrOutputParser"
//	ParseTypeName(reflect.ValueOf(strings.ToUpper))    // "ToUpper"
//	ParseTypeName(reflect.ValueOf(func() {}))          // ""
func ParseTypeName(val reflect.Value) string {
	if !val.IsValid() {
		return ""
	}

	typ := val.Type()

	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Func {
		return typ.Name()
	}

	funcName := runtime.FuncForPC(val.Pointer()).Name()
	idx := strings.LastIndex(funcName, ".")
	if idx < 0 {
		return funcName
	}

	name := funcName[idx+1:]
	if regOfAnonymousFunc.MatchString(name) || regOfNumber.MatchString(name) {
		return ""
	}

	return name
}
