package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

func TestStartRunsEagerlyAndStops(t *testing.T) {
	var runs atomic.Int32
	first := make(chan struct{}, 1)
	l := New("test", time.Hour, func(context.Context) error {
		if runs.Add(1) == 1 {
			first <- struct{}{}
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- l.Start(context.Background()) }()

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("eager cycle did not run")
	}
	assert.Eventually(t, l.IsRunning, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, l.Start(context.Background()), ErrAlreadyRunning)

	l.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.False(t, l.IsRunning())
	assert.Equal(t, int32(1), runs.Load())
}

func TestStartTicks(t *testing.T) {
	var runs atomic.Int32
	l := New("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("cycle errors never stop the loop")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunOnceSkipsWhenBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var runs atomic.Int32
	l := New("busy", time.Hour, func(context.Context) error {
		runs.Add(1)
		close(entered)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ran, err := l.RunOnce(context.Background())
		assert.True(t, ran)
		assert.NoError(t, err)
	}()
	<-entered

	ran, err := l.RunOnce(context.Background())
	assert.False(t, ran)
	assert.NoError(t, err)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), runs.Load())
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
		f.released++
	}, nil
}

func TestRunOnceHonoursLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{}}
	var runs atomic.Int32
	l := New("matching", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	}, WithLock(locker, time.Minute))

	ran, err := l.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, locker.released)

	locker.held["matching"] = true
	ran, err = l.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int32(1), runs.Load())

	locker.err = errors.New("redis down")
	ran, err = l.RunOnce(context.Background())
	assert.Error(t, err)
	assert.False(t, ran)
}
