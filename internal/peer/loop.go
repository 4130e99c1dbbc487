package peer

import (
	"context"
	"sync"
)

// loop serializes all engine work onto one goroutine. Posting never
// blocks, so pion callbacks that fire while the loop itself is closing a
// connection cannot deadlock it.
type loop struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
}

func newLoop() *loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &loop{
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// run drains the queue until the loop is stopped.
func (l *loop) run() {
	defer close(l.done)

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				fn()
			}
		}
	}
}

// post enqueues fn. It returns false once the loop is stopped.
func (l *loop) post(fn func()) bool {
	if l.ctx.Err() != nil {
		return false
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the loop and waits for it. It must not be used from the
// loop goroutine.
func (l *loop) call(fn func()) error {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrEngineStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrEngineStopped
		}
	}
}

// stop ends the loop and waits for the in-flight batch to finish.
func (l *loop) stop() {
	l.cancel()
	<-l.done
}
