package ensemble

import (
	"context"
	"sync"
)

// lazy is a resolved-or-not slot.  At most one resolution is in flight per
// slot; other callers wait for it or for their own ctx, whichever ends
// first, and retry the load themselves when it failed.
type lazy[T any] struct {
	mu       sync.Mutex
	done     bool
	val      T
	inflight chan struct{}
}

func (l *lazy[T]) get(ctx context.Context, load func(context.Context) (T, error)) (T, error) {
	var zero T
	for {
		l.mu.Lock()
		if l.done {
			v := l.val
			l.mu.Unlock()
			return v, nil
		}
		if wait := l.inflight; wait != nil {
			l.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		ch := make(chan struct{})
		l.inflight = ch
		l.mu.Unlock()

		v, err := load(ctx)

		l.mu.Lock()
		l.inflight = nil
		if err == nil {
			l.val, l.done = v, true
		}
		l.mu.Unlock()
		close(ch)

		if err != nil {
			return zero, err
		}
		return v, nil
	}
}

func (l *lazy[T]) resolved() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}
