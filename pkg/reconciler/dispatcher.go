package reconciler

import (
	"context"
	"errors"

	"github.com/cuemby/jenkins-relay/pkg/types"
)

// ErrStopped is returned by Submit once the dispatcher is stopped
var ErrStopped = errors.New("dispatcher stopped")

// HandleFunc handles one relation event
type HandleFunc func(ctx context.Context, ev types.RelationEvent) (any, error)

type request struct {
	ctx   context.Context
	ev    types.RelationEvent
	reply chan response
}

type response struct {
	result any
	err    error
}

// Dispatcher feeds events to a handler from a single goroutine, so no two
// events are ever handled at the same time.
type Dispatcher struct {
	handle HandleFunc
	reqCh  chan request
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDispatcher creates a dispatcher with room for buffer queued events
func NewDispatcher(handle HandleFunc, buffer int) *Dispatcher {
	return &Dispatcher{
		handle: handle,
		reqCh:  make(chan request, buffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the dispatch loop
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop stops the loop after the event in progress, if any
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	for {
		select {
		case req := <-d.reqCh:
			if err := req.ctx.Err(); err != nil {
				req.reply <- response{err: err}
				continue
			}
			result, err := d.handle(req.ctx, req.ev)
			req.reply <- response{result: result, err: err}
		case <-d.stopCh:
			return
		}
	}
}

// Submit queues ev and waits for its result
func (d *Dispatcher) Submit(ctx context.Context, ev types.RelationEvent) (any, error) {
	req := request{ctx: ctx, ev: ev, reply: make(chan response, 1)}

	select {
	case d.reqCh <- req:
	case <-d.stopCh:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.result, resp.err
	case <-d.doneCh:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
