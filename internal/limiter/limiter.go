// Package limiter provides a FIFO bounded-concurrency limiter.
//
// A Limiter admits at most Limit tasks at a time. Tasks beyond the limit wait
// in submission order and are admitted as soon as a running task finishes,
// whether it succeeded, failed or panicked.
package limiter

import (
	"context"
	"fmt"
	"sync"
)

// Limiter bounds the number of concurrently executing tasks.
// It is safe for use by multiple goroutines.
type Limiter struct {
	mu          sync.Mutex
	limit       int
	active      int
	maxObserved int
	// waiters holds admission channels in submission order.
	waiters []chan struct{}
}

// New creates a Limiter that admits at most limit tasks. Values below 1 are
// treated as 1.
func New(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{limit: limit}
}

// Limit returns the configured concurrency bound.
func (l *Limiter) Limit() int {
	return l.limit
}

// Active returns the number of tasks currently executing.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Queued returns the number of tasks waiting for admission.
func (l *Limiter) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// MaxObserved returns the highest number of simultaneously executing tasks
// seen over the limiter's lifetime.
func (l *Limiter) MaxObserved() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxObserved
}

// enqueue reserves a place in line. The returned channel is closed once the
// caller holds a slot.
func (l *Limiter) enqueue() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan struct{})
	if l.active < l.limit && len(l.waiters) == 0 {
		l.active++
		l.observe()
		close(ch)
		return ch
	}
	l.waiters = append(l.waiters, ch)
	return ch
}

// release frees a slot, handing it directly to the oldest waiter if any.
func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters[0] = nil
		l.waiters = l.waiters[1:]
		close(next)
		return
	}
	l.active--
}

// observe must be called with mu held.
func (l *Limiter) observe() {
	if l.active > l.maxObserved {
		l.maxObserved = l.active
	}
}

// Run submits task to the limiter and returns a Future for its result.
// Submission order is admission order. A task whose context is already done
// when admitted resolves with the context error without running.
func Run[T any](ctx context.Context, l *Limiter, task func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	admitted := l.enqueue()

	go func() {
		<-admitted
		defer l.release()

		if err := ctx.Err(); err != nil {
			var zero T
			f.resolve(zero, err)
			return
		}

		val, err := safeCall(ctx, task)
		f.resolve(val, err)
	}()

	return f
}

// Do runs task through the limiter and waits for it to finish.
func Do(ctx context.Context, l *Limiter, task func(ctx context.Context) error) error {
	f := Run(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, task(ctx)
	})
	_, err := f.Wait(context.Background())
	return err
}

// safeCall converts a panic in task into an error so the slot is always released.
func safeCall[T any](ctx context.Context, task func(ctx context.Context) (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}
