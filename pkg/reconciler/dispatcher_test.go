package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherSerializesEvents(t *testing.T) {
	var inFlight, maxInFlight, handled int32

	d := NewDispatcher(func(ctx context.Context, ev types.RelationEvent) (any, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&handled, 1)
		return ev.RemoteUnit, nil
	}, 4)
	d.Start()
	defer d.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Submit(context.Background(), types.RelationEvent{Kind: types.EventChanged, RemoteUnit: "slave/0"})
			assert.NoError(t, err)
			assert.Equal(t, "slave/0", res)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), atomic.LoadInt32(&handled))
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestDispatcherStopped(t *testing.T) {
	d := NewDispatcher(func(ctx context.Context, ev types.RelationEvent) (any, error) {
		return nil, nil
	}, 0)
	d.Start()
	d.Stop()

	_, err := d.Submit(context.Background(), types.RelationEvent{})
	require.ErrorIs(t, err, ErrStopped)
}

func TestDispatcherCancelledContext(t *testing.T) {
	block := make(chan struct{})
	d := NewDispatcher(func(ctx context.Context, ev types.RelationEvent) (any, error) {
		<-block
		return nil, nil
	}, 1)
	d.Start()
	defer d.Stop()
	defer close(block)

	go func() { _, _ = d.Submit(context.Background(), types.RelationEvent{}) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Submit(ctx, types.RelationEvent{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
