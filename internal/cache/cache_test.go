package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	sets int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	return s.data[key], nil
}

func (s *fakeStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sets++
	if s.err != nil {
		return s.err
	}

	s.data[key] = value

	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(opts Options) (*Cache, *clock) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(opts, nil)
	c.now = clk.now

	return c, clk
}

func TestCache_SetGet(t *testing.T) {
	c, _ := newTestCache(Options{TTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"))

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c, clk := newTestCache(Options{TTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"))
	clk.t = clk.t.Add(2 * time.Minute)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ZeroTTLDisables(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCache(Options{TTL: 0, L2: store})
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, store.sets)
}

func TestCache_NilIsSafe(t *testing.T) {
	var c *Cache

	c.Set(context.Background(), "k", []byte("v"))
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCache_EvictsClosestToExpiry(t *testing.T) {
	c, clk := newTestCache(Options{TTL: time.Minute, MaxEntries: 2})
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"))
	clk.t = clk.t.Add(time.Second)
	c.Set(ctx, "b", []byte("2"))
	clk.t = clk.t.Add(time.Second)
	c.Set(ctx, "c", []byte("3"))

	assert.Equal(t, 2, c.Len())

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should be evicted")

	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(Options{TTL: time.Minute, MaxEntries: 2})
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "b", []byte("2"))
	c.Set(ctx, "b", []byte("3"))

	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), got)
}

func TestCache_L2PopulatesL1(t *testing.T) {
	store := newFakeStore()
	store.data["k"] = []byte("remote")

	c, _ := newTestCache(Options{TTL: time.Minute, L2: store})
	ctx := context.Background()

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("remote"), got)
	assert.Equal(t, 1, c.Len())

	delete(store.data, "k")

	got, ok = c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("remote"), got)
}

func TestCache_L2ErrorsAreMisses(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")

	c, _ := newTestCache(Options{TTL: time.Minute, L2: store})
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"))
	assert.Equal(t, 1, store.sets)

	got, ok := c.Get(ctx, "k")
	require.True(t, ok, "L1 still serves")
	assert.Equal(t, []byte("v"), got)

	_, ok = c.Get(ctx, "other")
	assert.False(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	c, _ := newTestCache(Options{TTL: time.Minute})
	ctx := context.Background()

	type item struct {
		ID string `json:"id"`
	}

	SetJSON(ctx, c, "k", []item{{ID: "a"}, {ID: "b"}})

	got, ok := GetJSON[[]item](ctx, c, "k")
	require.True(t, ok)
	assert.Equal(t, []item{{ID: "a"}, {ID: "b"}}, got)

	c.Set(ctx, "bad", []byte("{"))
	_, ok = GetJSON[[]item](ctx, c, "bad")
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("search", "lofi", "10"), Key("search", "lofi", "10"))
	assert.NotEqual(t, Key("search", "lofi", "10"), Key("suggest", "lofi", "10"))
	assert.Regexp(t, `^ytd:[0-9a-f]{24}$`, Key("x"))
}
