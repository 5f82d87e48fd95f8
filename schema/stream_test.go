package schema

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 接收方提前关闭后，发送方应收到 closed 信号并停止生产
func TestStream(t *testing.T) {
	sr, sw := Pipe[int](0)

	var (
		wg   sync.WaitGroup
		sent int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sw.Close()
		for i := 0; i < 10; i++ {
			if closed := sw.Send(i, nil); closed {
				return
			}
			sent++
		}
	}()

	for i := 0; i < 5; i++ {
		v, err := sr.Recv()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	sr.Close()
	wg.Wait()

	assert.LessOrEqual(t, sent, 6)

	_, err := sr.Recv()
	assert.ErrorIs(t, err, ErrRecvAfterClosed)
}

func TestStreamReaderFromArray(t *testing.T) {
	sr := StreamReaderFromArray([]string{"a", "b"})

	var got []string
	for {
		s, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, s)
	}
	assert.Equal(t, []string{"a", "b"}, got)

	sr.Close()
	_, err := sr.Recv()
	assert.ErrorIs(t, err, ErrRecvAfterClosed)
}

func TestStreamReaderWithConvert(t *testing.T) {
	t.Run("跳过 ErrNoValue", func(t *testing.T) {
		sr := StreamReaderWithConvert(StreamReaderFromArray([]int{1, 0, 2}), func(i int) (string, error) {
			if i == 0 {
				return "", ErrNoValue
			}
			return fmt.Sprintf("val_%d", i), nil
		})
		defer sr.Close()

		s, err := sr.Recv()
		require.NoError(t, err)
		assert.Equal(t, "val_1", s)
		s, err = sr.Recv()
		require.NoError(t, err)
		assert.Equal(t, "val_2", s)
		_, err = sr.Recv()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("错误包装与结束钩子", func(t *testing.T) {
		boom := errors.New("boom")
		src, sw := Pipe[int](2)
		sw.Send(1, nil)
		sw.Send(0, boom)
		sw.Close()

		var doneErrs []error
		sr := StreamReaderWithConvert(src, func(i int) (int, error) { return i * 10, nil },
			WithErrWrapper(func(err error) error { return fmt.Errorf("wrapped: %w", err) }),
			WithOnDone(func(err error) { doneErrs = append(doneErrs, err) }),
		)

		v, err := sr.Recv()
		require.NoError(t, err)
		assert.Equal(t, 10, v)

		_, err = sr.Recv()
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "wrapped")

		sr.Close()
		require.Len(t, doneErrs, 1)
		assert.ErrorIs(t, doneErrs[0], boom)
	})

	t.Run("提前关闭", func(t *testing.T) {
		var doneErr error
		called := 0
		sr := StreamReaderWithConvert(StreamReaderFromArray([]int{1, 2}), func(i int) (int, error) { return i, nil },
			WithOnDone(func(err error) { doneErr = err; called++ }))
		_, _ = sr.Recv()
		sr.Close()
		sr.Close()

		assert.Equal(t, 1, called)
		assert.ErrorIs(t, doneErr, ErrStreamClosed)
	})

	t.Run("转换函数 panic", func(t *testing.T) {
		var doneErr error
		sr := StreamReaderWithConvert(StreamReaderFromArray([]int{1, 2}), func(i int) (int, error) {
			if i == 2 {
				panic("bad chunk")
			}
			return i, nil
		},
			WithErrWrapper(func(err error) error { return fmt.Errorf("wrapped: %w", err) }),
			WithOnDone(func(err error) { doneErr = err }),
		)
		defer sr.Close()

		v, err := sr.Recv()
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		assert.NotPanics(t, func() { _, err = sr.Recv() })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wrapped: panic error: bad chunk")
		assert.Equal(t, err, doneErr)
	})

	t.Run("正常结束", func(t *testing.T) {
		called := false
		sr := StreamReaderWithConvert(StreamReaderFromArray([]int{1}), func(i int) (int, error) { return i, nil },
			WithOnDone(func(err error) { called = true; assert.NoError(t, err) }))
		_, _ = sr.Recv()
		_, err := sr.Recv()
		assert.Equal(t, io.EOF, err)
		assert.True(t, called)
	})
}
