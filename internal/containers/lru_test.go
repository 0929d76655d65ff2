package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheAddGet(t *testing.T) {
	c := NewLRUCache[string, int](4)
	c.Add("a", 1)
	c.Add("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCacheZeroValueUsable(t *testing.T) {
	var c LRUCache[string, int]
	c.Add("x", 42)
	v, ok := c.Get("x")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestLRUCacheRemovePurge(t *testing.T) {
	c := NewLRUCache[string, int](4)
	c.Add("a", 1)
	c.Remove("a")
	assert.False(t, c.Contains("a"))

	c.Add("b", 2)
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestLRUCacheGetOrElse(t *testing.T) {
	c := NewLRUCache[string, int](4)
	calls := 0
	compute := func() int {
		calls++
		return 99
	}

	v := c.GetOrElse("k", compute)
	assert.Equal(t, 99, v)
	assert.Equal(t, 1, calls)

	v = c.GetOrElse("k", compute)
	assert.Equal(t, 99, v)
	assert.Equal(t, 1, calls, "second call must hit the cache, not recompute")
}
