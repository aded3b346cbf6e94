// Package limiter bounds how many codec invocations run at once across the
// whole process. Waiters are admitted strictly in arrival order.
package limiter

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

type Limiter struct {
	size    int64
	sem     *semaphore.Weighted
	running atomic.Int64
	waiting atomic.Int64
}

func New(n int) *Limiter {
	if n <= 0 {
		n = DefaultSize()
	}
	return &Limiter{
		size: int64(n),
		sem:  semaphore.NewWeighted(int64(n)),
	}
}

// DefaultSize is half the CPUs, clamped to [1, 4].
func DefaultSize() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

// Run waits for a free slot and executes task in the calling goroutine.
// The returned error is the task's own, or ctx.Err() when the caller gave up
// while still queued. A panic inside task is returned as an error and does
// not leak the slot.
func (l *Limiter) Run(ctx context.Context, task func(ctx context.Context) error) (err error) {
	l.waiting.Add(1)
	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.waiting.Add(-1)
		return err
	}
	l.waiting.Add(-1)
	l.running.Add(1)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("limiter: task panicked: %v\n%s", rec, debug.Stack())
		}
		l.running.Add(-1)
		l.sem.Release(1)
	}()

	return task(ctx)
}

// Do is Run for tasks that produce a value.
func Do[T any](ctx context.Context, l *Limiter, task func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := l.Run(ctx, func(ctx context.Context) error {
		v, err := task(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (l *Limiter) Size() int { return int(l.size) }

func (l *Limiter) Running() int { return int(l.running.Load()) }

func (l *Limiter) Waiting() int { return int(l.waiting.Load()) }
