package keycache

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

func TestCache_LoadsOnceWithinTTL(t *testing.T) {
	c := New[string](time.Hour)
	var calls int32
	load := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "key-material", nil
	}

	for i := 0; i < 5; i++ {
		v, err := c.Get(context.Background(), "kid-1", load)
		require.NoError(t, err)
		require.Equal(t, "key-material", v)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCache_ReloadsAfterExpiry(t *testing.T) {
	c := New[int](time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	var calls int
	load := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := c.Get(context.Background(), "k", load)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	v, err = c.Get(context.Background(), "k", load)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	c := New[string](time.Hour)
	var calls int32
	release := make(chan struct{})
	load := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "shared", load)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c := New[string](time.Hour)
	boom := errors.New("fetch failed")

	_, err := c.Get(context.Background(), "k", func(context.Context) (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
	require.Zero(t, c.Len())

	v, err := c.Get(context.Background(), "k", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}
