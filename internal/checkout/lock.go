package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Ticket proves ownership of the shared checkout write lock. Write
// operations require a live ticket; Release invalidates it.
type Ticket struct {
	project    string
	acquiredAt time.Time
	lock       *writeLock

	mu       sync.Mutex
	released bool
}

// Project returns the project the ticket was issued to.
func (t *Ticket) Project() string { return t.project }

type waiter struct {
	project string
	grant   chan struct{}
}

// writeLock serializes write access to the shared checkout. Waiters are
// granted strictly in arrival order so no project can starve another;
// each waiter bounds its own wait and fails with ErrLockTimeout.
type writeLock struct {
	mu     sync.Mutex
	held   bool
	holder string
	queue  []*waiter
}

// acquire blocks until the lock is granted, the timeout elapses, or the
// context is cancelled.
func (l *writeLock) acquire(ctx context.Context, project string, timeout time.Duration) (*Ticket, error) {
	l.mu.Lock()
	if !l.held && len(l.queue) == 0 {
		l.held = true
		l.holder = project
		l.mu.Unlock()
		return &Ticket{project: project, acquiredAt: time.Now().UTC(), lock: l}, nil
	}

	w := &waiter{project: project, grant: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.grant:
		return &Ticket{project: project, acquiredAt: time.Now().UTC(), lock: l}, nil
	case <-timer.C:
		l.abandon(w)
		return nil, fmt.Errorf("%w: %s waited %s", ErrLockTimeout, project, timeout)
	case <-ctx.Done():
		l.abandon(w)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, project, ctx.Err())
	}
}

// abandon removes a waiter that gave up. If the grant raced the timeout,
// the waiter already owns the lock and must pass it on.
func (l *writeLock) abandon(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
	// Not queued anymore: the grant won the race. Hand the lock to the
	// next waiter as if released.
	l.releaseLocked()
}

// release frees the lock or hands it to the next queued waiter.
func (l *writeLock) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked()
}

func (l *writeLock) releaseLocked() {
	if len(l.queue) > 0 {
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.holder = next.project
		close(next.grant)
		return
	}
	l.held = false
	l.holder = ""
}

// state returns the lock state for status reporting: "free" or
// "held-by:<project>".
func (l *writeLock) state() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return "held-by:" + l.holder
	}
	return "free"
}

// valid reports whether the ticket still holds the lock.
func (t *Ticket) valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return false
	}
	t.lock.mu.Lock()
	defer t.lock.mu.Unlock()
	return t.lock.held && t.lock.holder == t.project
}

// Release gives the lock up. Safe to call more than once.
func (t *Ticket) Release() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	t.mu.Unlock()
	t.lock.release()
}
