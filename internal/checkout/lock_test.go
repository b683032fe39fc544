package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockBasicAcquireRelease(t *testing.T) {
	l := &writeLock{}

	ticket, err := l.acquire(context.Background(), "alpha", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "held-by:alpha", l.state())

	ticket.Release()
	assert.Equal(t, "free", l.state())

	// Double release is safe.
	ticket.Release()
	assert.Equal(t, "free", l.state())
}

func TestLockMutualExclusion(t *testing.T) {
	l := &writeLock{}
	ctx := context.Background()

	first, err := l.acquire(ctx, "alpha", time.Second)
	require.NoError(t, err)

	// Second acquisition with a short timeout fails while held.
	_, err = l.acquire(ctx, "beta", 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)

	first.Release()

	// Now beta can get it.
	second, err := l.acquire(ctx, "beta", time.Second)
	require.NoError(t, err)
	second.Release()
}

func TestLockConcurrentContention(t *testing.T) {
	// Two projects race for the lock: exactly one holds it at any moment,
	// and both eventually succeed within the timeout.
	l := &writeLock{}
	ctx := context.Background()

	var mu sync.Mutex
	holders := 0
	maxHolders := 0

	var wg sync.WaitGroup
	for _, project := range []string{"alpha", "beta"} {
		wg.Add(1)
		go func(project string) {
			defer wg.Done()
			ticket, err := l.acquire(ctx, project, 5*time.Second)
			require.NoError(t, err)

			mu.Lock()
			holders++
			if holders > maxHolders {
				maxHolders = holders
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()

			ticket.Release()
		}(project)
	}
	wg.Wait()

	assert.Equal(t, 1, maxHolders, "lock must never be granted to both projects simultaneously")
	assert.Equal(t, "free", l.state())
}

func TestLockFIFOOrder(t *testing.T) {
	l := &writeLock{}
	ctx := context.Background()

	first, err := l.acquire(ctx, "alpha", time.Second)
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	enqueue := func(project string) {
		defer wg.Done()
		ticket, err := l.acquire(ctx, project, 5*time.Second)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, project)
		mu.Unlock()
		ticket.Release()
	}

	wg.Add(1)
	go enqueue("beta")
	// Ensure beta is queued before gamma.
	waitForQueue(t, l, 1)
	wg.Add(1)
	go enqueue("gamma")
	waitForQueue(t, l, 2)

	first.Release()
	wg.Wait()

	assert.Equal(t, []string{"beta", "gamma"}, order, "waiters must be granted in arrival order")
}

func TestLockContextCancellation(t *testing.T) {
	l := &writeLock{}

	first, err := l.acquire(context.Background(), "alpha", time.Second)
	require.NoError(t, err)
	defer first.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := l.acquire(ctx, "beta", 10*time.Second)
		errCh <- err
	}()
	waitForQueue(t, l, 1)
	cancel()

	err = <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)

	// The abandoned waiter must not wedge the queue.
	first.Release()
	ticket, err := l.acquire(context.Background(), "gamma", time.Second)
	require.NoError(t, err)
	ticket.Release()
}

// waitForQueue polls until the lock has n queued waiters.
func waitForQueue(t *testing.T, l *writeLock, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		queued := len(l.queue)
		l.mu.Unlock()
		if queued >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue never reached %d waiters", n)
}
