package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetExpire(t *testing.T) {
	c := NewMemory(time.Minute, time.Minute)

	_, ok := c.Get("a")
	require.False(t, ok)

	c.Set("a", "1", 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)

	c.Set("short", "x", 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := c.Get("short")
		return !ok
	}, time.Second, 5*time.Millisecond)

	st := c.Stats()
	require.GreaterOrEqual(t, st.Hits, int64(1))
	require.GreaterOrEqual(t, st.Misses, int64(2))
}

func TestMemory_DeleteFlush(t *testing.T) {
	c := NewMemory(time.Minute, 0)
	c.Set("a", "1", 0)
	c.Set("b", "2", 0)

	c.Delete("a")
	_, ok := c.Get("a")
	require.False(t, ok)

	c.Flush()
	require.Zero(t, c.Stats().Keys)
}
