package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/metrics"
)

// Cache memoizes embeddings by text so repeated fields (site-wide titles,
// boilerplate descriptions, retried items) are embedded once.
type Cache struct {
	inner ingest.EmbeddingService

	mu    sync.Mutex
	cache *lru.Cache
}

// DefaultCacheSize bounds the cache when no positive size is given.
const DefaultCacheSize = 4096

// NewCache wraps inner with an LRU cache holding up to size texts. A
// non-positive size selects DefaultCacheSize; the cache is never unbounded.
func NewCache(inner ingest.EmbeddingService, size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{inner: inner, cache: lru.New(size)}
}

// Dimensions implements ingest.EmbeddingService.
func (c *Cache) Dimensions() int { return c.inner.Dimensions() }

// Embed returns cached vectors where possible and sends the rest to the
// wrapped service in one call. Results keep input order.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	c.mu.Lock()
	for i, text := range texts {
		if v, ok := c.cache.Get(key(text)); ok {
			out[i] = v.([]float32)
			metrics.ObserveEmbeddingCache(true)
			continue
		}
		metrics.ObserveEmbeddingCache(false)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(vecs), len(missTexts))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Add(key(missTexts[j]), vecs[j])
	}
	return out, nil
}

// Len reports how many texts are cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

func key(text string) [sha256.Size]byte {
	return sha256.Sum256([]byte(text))
}
