// Package mainloop provides the process's foreground execution context: a
// single goroutine that runs posted tasks in order. Foreground-state changes
// and capture revocation callbacks are delivered here, never on the caller's
// goroutine.
package mainloop

import (
	"context"
	"sync"
)

// Executor runs tasks on some execution context.
type Executor interface {
	// Post schedules fn and reports whether it was accepted.
	Post(fn func()) bool
}

// Loop is an unbounded FIFO task queue drained by Run.
// Post never blocks, so it is safe to call from any goroutine, including
// from a task already running on the loop.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// New creates a Loop. Nothing runs until Run is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. It returns false once the loop has been closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes tasks on the calling goroutine until ctx is cancelled or
// Close is called. Tasks queued before Close are still executed.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.tasks
		l.tasks = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Close stops accepting tasks; Run returns after draining the queue.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Inline runs tasks synchronously on the posting goroutine.
type Inline struct{}

func (Inline) Post(fn func()) bool {
	fn()
	return true
}
