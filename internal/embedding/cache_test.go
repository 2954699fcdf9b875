package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheServesRepeatsFromMemory(t *testing.T) {
	t.Parallel()

	inner := &stubService{dims: 2, vectors: map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
		"c": {1, 1},
	}}
	c := NewCache(inner, 10)

	first, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, first)

	second, err := c.Embed(context.Background(), []string{"b", "c", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {1, 0}}, second)

	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"c"}, inner.calls[1], "only misses reach the service")
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 2, c.Dimensions())

	_, err = c.Embed(context.Background(), []string{"a", "c"})
	require.NoError(t, err)
	assert.Len(t, inner.calls, 2)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	inner := &stubService{dims: 1, vectors: map[string][]float32{"a": {1}, "b": {2}, "c": {3}}}
	c := NewCache(inner, 2)
	for _, text := range []string{"a", "b", "c", "a"} {
		_, err := c.Embed(context.Background(), []string{text})
		require.NoError(t, err)
	}
	assert.Len(t, inner.calls, 4)
	assert.Equal(t, 2, c.Len())
}

func TestCacheErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("down")
	_, err := NewCache(&stubService{err: boom}, 4).Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)

	short := &stubService{short: true, vectors: map[string][]float32{"a": {1}, "b": {2}}}
	c := NewCache(short, 4)
	_, err = c.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCacheNonPositiveSizeStaysBounded(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, -5} {
		c := NewCache(&stubService{dims: 1}, size)
		assert.Equal(t, DefaultCacheSize, c.cache.MaxEntries)
	}
}
