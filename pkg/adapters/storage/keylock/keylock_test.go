package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	l := New()

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()

	release, err = l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
}

func TestAcquireContextCancelled(t *testing.T) {
	l := New()

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIndependentKeys(t *testing.T) {
	l := New()

	releaseA, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := l.Acquire(context.Background(), "b")
	require.NoError(t, err)
	releaseB()
}

func TestMutualExclusion(t *testing.T) {
	l := New()

	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "k")
			if err != nil {
				t.Error(err)
				return
			}
			defer release()

			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "at most one holder per key")
}
