package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_BasicOperations(t *testing.T) {
	c := New(time.Minute, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("drift", 42)
	v, ok := c.Get("drift")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	c.Delete("drift")
	_, ok = c.Get("drift")
	assert.False(t, ok)
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New(time.Minute, time.Minute)
	calls := 0
	load := func() (any, error) {
		calls++
		return "summary", nil
	}

	v, hit, err := c.GetOrLoad(Key("drift", "announcement"), load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "summary", v)

	v, hit, err = c.GetOrLoad(Key("drift", "announcement"), load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "summary", v)
	assert.Equal(t, 1, calls)
}

func TestCache_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := New(time.Minute, time.Minute)
	boom := errors.New("store down")

	_, _, err := c.GetOrLoad("k", func() (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.ItemCount())
}

func TestCache_Expiration(t *testing.T) {
	c := New(20*time.Millisecond, 10*time.Millisecond)
	c.Set("k", "v")

	require.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCache_Clear(t *testing.T) {
	c := New(time.Minute, time.Minute)
	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, k)
	}
	assert.Equal(t, 3, c.ItemCount())

	c.Clear()
	assert.Equal(t, 0, c.ItemCount())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(time.Minute, time.Minute)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := Key("mismatches", string(rune('a'+i%5)))
			_, _, err := c.GetOrLoad(key, func() (any, error) { return i, nil })
			assert.NoError(t, err)
			if i%7 == 0 {
				c.Clear()
			}
		}()
	}
	wg.Wait()
}

func TestKey(t *testing.T) {
	assert.Equal(t, "drift|announcement|", Key("drift", "announcement", ""))
}
