// Package console implements the client-side synchronization core: the
// application state object, the periodic status synchronizer, the policy
// action controllers, and the chat session poller.
//
// Concurrency model: every recurring job is a Task carrying its own
// cancellation. A component never starts a second task of the same kind
// without stopping the prior one first, and teardown stops everything.
// Ticks of one task run strictly sequentially; tasks of different
// components touch disjoint state and may interleave.
package console

import (
	"context"
	"sync"
	"time"
)

// Task is a cancellable periodic job. Stop is idempotent and waits for the
// tick goroutine to exit, so no tick can observe or mutate state after
// Stop returns.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartTicker runs fn every interval until fn returns false, the task is
// stopped, or ctx is cancelled. The first invocation happens one full
// interval after start.
func StartTicker(ctx context.Context, interval time.Duration, fn func(ctx context.Context) bool) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !fn(ctx) {
					return
				}
			}
		}
	}()

	return t
}

// Stop cancels the task and waits for the tick goroutine to exit.
// Safe to call multiple times and after the task finished on its own.
func (t *Task) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

// Finished reports whether the tick goroutine has exited, either because
// the job signalled completion or because the task was stopped.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
