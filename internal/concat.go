package internal

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/favbox/chainflow/internal/generic"
)

var (
	concatMu    sync.RWMutex
	concatFuncs = map[reflect.Type]any{
		generic.TypeOf[string](): concatStrings,
		generic.TypeOf[[]string](): func(ss [][]string) ([]string, error) {
			var out []string
			for _, s := range ss {
				out = append(out, s...)
			}
			return out, nil
		},
	}
)

// concatStrings 按顺序拼接流式文本片段。
func concatStrings(ss []string) (string, error) {
	var n int
	for _, s := range ss {
		n += len(s)
	}

	var b strings.Builder
	b.Grow(n)
	for _, s := range ss {
		b.WriteString(s)
	}

	return b.String(), nil
}

// RegisterStreamChunkConcatFunc 注册类型 T 的流块合并函数。
// 通常在包的 init 中调用，例如 schema 注册 *Message 的合并。
func RegisterStreamChunkConcatFunc[T any](fn func([]T) (T, error)) {
	concatMu.Lock()
	defer concatMu.Unlock()

	concatFuncs[generic.TypeOf[T]()] = fn
}

func getConcatFunc[T any]() (func([]T) (T, error), bool) {
	concatMu.RLock()
	defer concatMu.RUnlock()

	fn, ok := concatFuncs[generic.TypeOf[T]()]
	if !ok {
		return nil, false
	}

	typed, ok := fn.(func([]T) (T, error))
	return typed, ok
}

// ConcatItems 合并流中的多个块为一个值。
//
// 合并策略：
//   - 已注册合并函数的类型（string、*schema.Message 等）使用注册函数
//   - 其余类型只允许一个非零块，全为零值时返回零值
func ConcatItems[T any](items []T) (T, error) {
	if len(items) == 1 {
		return items[0], nil
	}

	if fn, ok := getConcatFunc[T](); ok {
		return fn(items)
	}

	var (
		picked T
		found  bool
	)
	for _, item := range items {
		if reflect.ValueOf(&item).Elem().IsZero() {
			continue
		}
		if found {
			return generic.ZeroOf[T](), fmt.Errorf("cannot concat multiple non-zero value of type %s", generic.TypeOf[T]())
		}
		picked, found = item, true
	}

	return picked, nil
}
