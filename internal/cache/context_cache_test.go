package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu    sync.Mutex
	store map[string][]byte
	gets  int
	sets  int
}

func newStubProvider() *stubProvider {
	return &stubProvider{store: make(map[string][]byte)}
}

func (s *stubProvider) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	value, ok := s.store[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), value...), nil
}

func (s *stubProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.store[key] = append([]byte(nil), value...)
	return nil
}

func (s *stubProvider) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, key)
	return nil
}

func (s *stubProvider) Close() error { return nil }

func TestGetOrFetchCachesWithinTTL(t *testing.T) {
	current := time.Now()
	c := NewContextCache(16, nil)
	c.now = func() time.Time { return current }

	calls := 0
	fetch := func(context.Context) ([]byte, error) {
		calls++
		return []byte("payload"), nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		data, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), data)
	}
	assert.Equal(t, 1, calls, "fetcher must run exactly once within the TTL window")
}

func TestGetOrFetchRefetchesAfterExpiry(t *testing.T) {
	current := time.Now()
	c := NewContextCache(16, nil)
	c.now = func() time.Time { return current }

	calls := 0
	fetch := func(context.Context) ([]byte, error) {
		calls++
		return []byte(fmt.Sprintf("v%d", calls)), nil
	}

	ctx := context.Background()
	data, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	current = current.Add(2 * time.Minute)

	data, err = c.GetOrFetch(ctx, "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
	assert.Equal(t, 2, calls)
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	c := NewContextCache(16, nil)

	var calls int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("shared"), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(context.Background(), "hot", time.Minute, fetch)
		}(i)
	}

	// Give every caller time to reach the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent callers must share one fetch")
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("shared"), results[i])
	}
}

func TestEntryCapEvictsLeastRecentlyFetched(t *testing.T) {
	current := time.Now()
	c := NewContextCache(3, nil)
	c.now = func() time.Time { return current }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("k%d", i)
		current = current.Add(time.Second)
		_, err := c.GetOrFetch(ctx, key, time.Hour, func(context.Context) ([]byte, error) {
			return []byte(key), nil
		})
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, c.Len(), 3)

	// The most recently fetched key must have survived eviction.
	calls := 0
	_, err := c.GetOrFetch(ctx, "k4", time.Hour, func(context.Context) ([]byte, error) {
		calls++
		return []byte("refetched"), nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestRemoteTierReadThrough(t *testing.T) {
	remote := newStubProvider()
	require.NoError(t, remote.Set(context.Background(), "warm", []byte("remote-data"), 0))

	c := NewContextCache(16, remote)
	data, err := c.GetOrFetch(context.Background(), "warm", time.Minute, func(context.Context) ([]byte, error) {
		t.Fatal("fetcher must not run when the remote tier has the key")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("remote-data"), data)
}

func TestRemoteTierWriteThrough(t *testing.T) {
	remote := newStubProvider()
	c := NewContextCache(16, remote)

	_, err := c.GetOrFetch(context.Background(), "cold", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)

	stored, err := remote.Get(context.Background(), "cold")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), stored)
}

func TestNoopProviderTierAlwaysFetches(t *testing.T) {
	c := NewContextCache(16, NoopProvider{})

	calls := 0
	data, err := c.GetOrFetch(context.Background(), "k", time.Minute, func(context.Context) ([]byte, error) {
		calls++
		return []byte("fetched"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("fetched"), data)
	assert.Equal(t, 1, calls, "noop tier must miss and defer to the fetcher")

	_, err = NoopProvider{}.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss, "noop provider never retains writes")
}

func TestFetchErrorNotCached(t *testing.T) {
	c := NewContextCache(16, nil)

	calls := 0
	_, err := c.GetOrFetch(context.Background(), "bad", time.Minute, func(context.Context) ([]byte, error) {
		calls++
		return nil, fmt.Errorf("backend down")
	})
	require.Error(t, err)

	data, err := c.GetOrFetch(context.Background(), "bad", time.Minute, func(context.Context) ([]byte, error) {
		calls++
		return []byte("recovered"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), data)
	assert.Equal(t, 2, calls)
}
