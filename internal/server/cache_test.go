package server

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmap/internal/metrics"
)

func TestResponseCache_LRUEviction(t *testing.T) {
	c := newResponseCache(2, time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	_, ok := c.Get("a") // a becomes most recent
	require.True(t, ok)

	c.Set("c", []byte("3"))
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

func TestResponseCache_TTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newResponseCache(10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", []byte("v"))
	c.Set("other", []byte("v"))
	_, ok := c.Get("k")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.sweep())
	assert.Zero(t, c.Len())
}

func TestResponseCache_SetRefreshes(t *testing.T) {
	c := newResponseCache(2, time.Minute)
	c.Set("k", []byte("old"))
	c.Set("k", []byte("new"))
	v, _ := c.Get("k")
	assert.Equal(t, []byte("new"), v)
	assert.Equal(t, 1, c.Len())
}

func TestResponseCache_Metrics(t *testing.T) {
	hits := metrics.CacheRequests.WithLabelValues("hit")
	misses := metrics.CacheRequests.WithLabelValues("miss")
	h0, m0 := testutil.ToFloat64(hits), testutil.ToFloat64(misses)

	c := newResponseCache(4, time.Minute)
	c.Get("x")
	c.Set("x", nil)
	c.Get("x")

	assert.Equal(t, h0+1, testutil.ToFloat64(hits))
	assert.Equal(t, m0+1, testutil.ToFloat64(misses))
}
