package flight

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoCollapsesConcurrentCalls(t *testing.T) {
	g := NewGroup[int]()

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	const n = 8
	results := make([]int, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, _, err := g.Do("key", func() (int, error) {
				calls.Add(1)
				close(started)
				<-release
				return 7, nil
			})
			results[i], errs[i] = v, err
		}(i)
	}

	<-started
	assert.True(t, g.InFlight("key"))
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 7, results[i])
	}
	assert.False(t, g.InFlight("key"))
}

func TestDoSequentialCallsRunSeparately(t *testing.T) {
	g := NewGroup[string]()

	var calls atomic.Int32
	fn := func() (string, error) {
		calls.Add(1)
		return "v", nil
	}

	v, shared, err := g.Do("key", fn)
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.False(t, shared)

	_, _, err = g.Do("key", fn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoPropagatesError(t *testing.T) {
	g := NewGroup[int]()
	sentinel := errors.New("boom")

	v, _, err := g.Do("key", func() (int, error) {
		return 0, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Zero(t, v)
	assert.False(t, g.InFlight("key"))
}

func TestDistinctKeysDoNotShare(t *testing.T) {
	g := NewGroup[int]()

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, _ = g.Do(key, func() (int, error) {
				calls.Add(1)
				started <- struct{}{}
				<-release
				return 0, nil
			})
		}(key)
	}

	<-started
	<-started
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), calls.Load())
}
