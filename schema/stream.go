package schema

import (
	"errors"
	"io"
	"runtime/debug"
	"sync"

	"github.com/favbox/chainflow/internal/safe"
)

// Pipe 创建指定容量的流，返回流读取器和流写入器。
// 容量表示流中可缓冲的最大数据项数量。
//
// 示例:
//
//	sr, sw := schema.Pipe[string](3)
//	go func() {
//		defer sw.Close()
//		for _, s := range []string{"a", "b", "c"} {
//			if closed := sw.Send(s, nil); closed {
//				return
//			}
//		}
//	}()
//
//	defer sr.Close()
//	for {
//		chunk, err := sr.Recv()
//		if errors.Is(err, io.EOF) {
//			break
//		}
//		fmt.Println(chunk)
//	}
func Pipe[T any](cap int) (*StreamReader[T], *StreamWriter[T]) {
	stm := newStream[T](cap)
	return &StreamReader[T]{typ: readerTypeStream, st: stm}, &StreamWriter[T]{stm: stm}
}

// StreamReaderFromArray 以流的方式顺序读取数组元素。
func StreamReaderFromArray[T any](arr []T) *StreamReader[T] {
	return &StreamReader[T]{typ: readerTypeArray, ar: &arrayReader[T]{arr: arr}}
}

// ConvertOption StreamReaderWithConvert 的可选配置。
type ConvertOption func(*convertOptions)

type convertOptions struct {
	errWrapper func(error) error
	onDone     func(error)
}

// WithErrWrapper 对源流或转换函数返回的错误（io.EOF 除外）做二次包装。
func WithErrWrapper(wrap func(error) error) ConvertOption {
	return func(o *convertOptions) {
		o.errWrapper = wrap
	}
}

// WithOnDone 注册流结束钩子，只触发一次：
// 正常读到 io.EOF 时参数为 nil；遇到错误时为该错误（已包装）；
// 未读完即关闭时为 ErrStreamClosed。
func WithOnDone(fn func(err error)) ConvertOption {
	return func(o *convertOptions) {
		o.onDone = fn
	}
}

// StreamReaderWithConvert 逐项转换流数据，转换发生在 Recv 内部，不做预读。
// 转换函数返回 ErrNoValue 时跳过该项。
//
// 示例:
//
//	intReader := schema.StreamReaderFromArray([]int{1, 2, 3})
//	strReader := schema.StreamReaderWithConvert(intReader, func(i int) (string, error) {
//		return fmt.Sprintf("val_%d", i), nil
//	})
//	defer strReader.Close()
//
//	s, _ := strReader.Recv() // val_1
func StreamReaderWithConvert[T, D any](sr *StreamReader[T], convert func(T) (D, error), opts ...ConvertOption) *StreamReader[D] {
	o := &convertOptions{}
	for _, opt := range opts {
		opt(o)
	}

	srw := &convertReader[T, D]{
		src:     sr,
		convert: convert,
		opts:    o,
	}

	return &StreamReader[D]{typ: readerTypeWithConvert, srw: srw}
}

// ErrNoValue 用于 StreamReaderWithConvert 中跳过流数据项。
// 在转换函数中返回此错误会从转换后的流中排除该项，请勿在其他情况下使用。
var ErrNoValue = errors.New("no value")

// ErrRecvAfterClosed 表示在流关闭后调用了 Recv，属于调用方代码错误。
var ErrRecvAfterClosed = errors.New("recv after stream closed")

// ErrStreamClosed 表示流在读完之前被消费方关闭。
var ErrStreamClosed = errors.New("stream closed before EOF")

// StreamReader 单消费者、只读一次的拉取式流。
// 读到 io.EOF 表示流结束；使用完毕后必须调用 Close 释放资源。
type StreamReader[T any] struct {
	typ readerType

	st  *stream[T]
	ar  *arrayReader[T]
	srw reader[T]
}

// StreamWriter 流数据发送器，由 Pipe 创建。
type StreamWriter[T any] struct {
	stm *stream[T]
}

type readerType int

const (
	readerTypeStream readerType = iota
	readerTypeArray
	readerTypeWithConvert
)

type reader[T any] interface {
	recv() (T, error)
	close()
}

// Recv 接收下一项数据，流结束时返回 io.EOF。
func (sr *StreamReader[T]) Recv() (T, error) {
	switch sr.typ {
	case readerTypeStream:
		return sr.st.recv()
	case readerTypeArray:
		return sr.ar.recv()
	case readerTypeWithConvert:
		return sr.srw.recv()
	default:
		panic("impossible")
	}
}

// Close 关闭读取器，通知上游停止生产。可重复调用。
func (sr *StreamReader[T]) Close() {
	switch sr.typ {
	case readerTypeStream:
		sr.st.closeRecv()
	case readerTypeArray:
		sr.ar.close()
	case readerTypeWithConvert:
		sr.srw.close()
	}
}

// Send 发送一项数据或错误，返回值表示接收端是否已关闭。
func (sw *StreamWriter[T]) Send(chunk T, err error) (closed bool) {
	return sw.stm.send(chunk, err)
}

// Close 关闭发送端，接收方随后收到 io.EOF。
func (sw *StreamWriter[T]) Close() {
	sw.stm.closeSend()
}

// stream 基于 channel 的底层流，1 个发送者、1 个接收者。
type stream[T any] struct {
	items chan streamItem[T]

	closed    chan struct{}
	closeOnce sync.Once
}

type streamItem[T any] struct {
	chunk T
	err   error
}

func newStream[T any](cap int) *stream[T] {
	return &stream[T]{
		items:  make(chan streamItem[T], cap),
		closed: make(chan struct{}),
	}
}

func (s *stream[T]) recv() (chunk T, err error) {
	select {
	case <-s.closed:
		return chunk, ErrRecvAfterClosed
	default:
	}

	item, ok := <-s.items
	if !ok {
		item.err = io.EOF
	}

	return item.chunk, item.err
}

func (s *stream[T]) send(chunk T, err error) (closed bool) {
	select {
	case <-s.closed:
		return true
	default:
	}

	select {
	case <-s.closed:
		return true
	case s.items <- streamItem[T]{chunk, err}:
		return false
	}
}

func (s *stream[T]) closeSend() {
	close(s.items)
}

func (s *stream[T]) closeRecv() {
	s.closeOnce.Do(func() { close(s.closed) })
}

type arrayReader[T any] struct {
	arr    []T
	index  int
	closed bool
}

func (ar *arrayReader[T]) recv() (T, error) {
	if ar.closed {
		var t T
		return t, ErrRecvAfterClosed
	}
	if ar.index < len(ar.arr) {
		ret := ar.arr[ar.index]
		ar.index++

		return ret, nil
	}

	var t T
	return t, io.EOF
}

func (ar *arrayReader[T]) close() {
	ar.closed = true
}

// convertReader 带转换的读取器，源流的关闭随之传递。
type convertReader[T, D any] struct {
	src     *StreamReader[T]
	convert func(T) (D, error)
	opts    *convertOptions

	done bool
}

// recv 转换函数中的 panic 被转换为错误，与其他错误一样经过 errWrapper 与 onDone。
func (c *convertReader[T, D]) recv() (out D, err error) {
	defer func() {
		if r := recover(); r != nil {
			var d D
			out, err = d, c.finish(safe.NewPanicErr(r, debug.Stack()))
		}
	}()

	for {
		in, err := c.src.Recv()
		if err != nil {
			var d D
			return d, c.finish(err)
		}

		out, err := c.convert(in)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrNoValue) {
			return out, c.finish(err)
		}
	}
}

func (c *convertReader[T, D]) finish(err error) error {
	if err != io.EOF && c.opts.errWrapper != nil {
		err = c.opts.errWrapper(err)
	}
	if !c.done {
		c.done = true
		if c.opts.onDone != nil {
			if err == io.EOF {
				c.opts.onDone(nil)
			} else {
				c.opts.onDone(err)
			}
		}
	}

	return err
}

func (c *convertReader[T, D]) close() {
	if !c.done {
		c.done = true
		if c.opts.onDone != nil {
			c.opts.onDone(ErrStreamClosed)
		}
	}
	c.src.Close()
}
