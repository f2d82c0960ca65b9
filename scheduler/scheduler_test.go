package scheduler_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireq/wireq/scheduler"
)

func TestEachUnitExecutesExactlyOnce(t *testing.T) {
	p := scheduler.NewPool(2, 8)
	defer p.Close()

	const n = 500
	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.NoError(t, p.Submit(func() {
			count.Add(1)
			wg.Done()
		}))
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for all units to execute")
	}
	assert.Equal(t, int64(n), count.Load())
}

func TestPoolNeverExceedsMaxThreads(t *testing.T) {
	p := scheduler.NewPool(1, 4)
	defer p.Close()

	release := make(chan struct{})
	var wg sync.WaitGroup
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.NoError(t, p.Submit(func() {
			<-release
			wg.Done()
		}))
	}

	require.Eventually(t, func() bool { return p.ActiveWorkers() <= 4 }, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, p.ActiveWorkers(), 4)

	close(release)
	wg.Wait()
}

func TestSubmitAfterCloseFails(t *testing.T) {
	p := scheduler.NewPool(1, 2)
	p.Close()

	err := p.Submit(func() {})
	assert.ErrorIs(t, err, scheduler.ErrClosed)
}

func TestMinThreadsFloorsBelowOne(t *testing.T) {
	p := scheduler.NewPool(0, 0)
	defer p.Close()
	assert.Equal(t, 1, p.ActiveWorkers())
}
