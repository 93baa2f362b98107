package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_ConcurrentCallersShareOneRun(t *testing.T) {
	g := New()
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "https://signed/k", nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = g.Resolve(context.Background(), "k", fn)
		}(i)
	}

	require.Eventually(t, func() bool { return g.InFlight() == 1 }, time.Second, time.Millisecond)
	// let every caller join before the run finishes
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "https://signed/k", results[i])
	}
	assert.Equal(t, 0, g.InFlight())
}

func TestGroup_SlotClearedAfterFailure(t *testing.T) {
	g := New()
	boom := errors.New("boom")
	var calls int

	_, _, err := g.Resolve(context.Background(), "k", func(context.Context) (string, error) {
		calls++
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, g.InFlight())

	url, _, err := g.Resolve(context.Background(), "k", func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", url)
	assert.Equal(t, 2, calls)
}

func TestGroup_DistinctKeysRunIndependently(t *testing.T) {
	g := New()
	block := make(chan struct{})
	go g.Resolve(context.Background(), "slow", func(context.Context) (string, error) {
		<-block
		return "slow", nil
	})
	require.Eventually(t, func() bool { return g.InFlight() == 1 }, time.Second, time.Millisecond)

	url, _, err := g.Resolve(context.Background(), "fast", func(context.Context) (string, error) {
		return "fast", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", url)
	close(block)
}

func TestGroup_CallerCancellationDoesNotStopWork(t *testing.T) {
	g := New()
	release := make(chan struct{})
	done := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _, err := g.Resolve(ctx, "k", func(work context.Context) (string, error) {
			<-release
			done <- work.Err()
			return "late", nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()
	require.Eventually(t, func() bool { return g.InFlight() == 1 }, time.Second, time.Millisecond)

	cancel()
	// a second caller joins the run the first one abandoned
	joined := make(chan string, 1)
	go func() {
		url, _, _ := g.Resolve(context.Background(), "k", func(context.Context) (string, error) {
			return "second run", nil
		})
		joined <- url
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.NoError(t, <-done)
	assert.Equal(t, "late", <-joined)
}
