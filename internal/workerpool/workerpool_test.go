package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(2)
	var running, maxRunning int32
	var done int32

	for i := 0; i < 6; i++ {
		err := p.Submit(context.Background(), func() {
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxRunning)
				if n <= cur || atomic.CompareAndSwapInt32(&maxRunning, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			atomic.AddInt32(&done, 1)
		})
		require.NoError(t, err)
	}

	p.Wait()
	require.EqualValues(t, 6, done)
	require.LessOrEqual(t, maxRunning, int32(2))
}

func TestDoReturnsError(t *testing.T) {
	p := New(1)
	err := p.Do(context.Background(), func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
}

type poolErr string

func (e poolErr) Error() string { return string(e) }

const errBoom = poolErr("boom")

func TestSubmitRespectsCancellation(t *testing.T) {
	p := New(1)
	require.NoError(t, p.Submit(context.Background(), func() { time.Sleep(50 * time.Millisecond) }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Submit(ctx, func() {})
	require.ErrorIs(t, err, context.Canceled)
	p.Wait()
}
