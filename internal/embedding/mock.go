package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Mock is a deterministic EmbeddingService: the same text always maps to the
// same unit vector. It lets the pipeline run without an external provider.
type Mock struct {
	dims int
}

// NewMock returns a Mock producing vectors of the given dimension.
func NewMock(dims int) *Mock {
	if dims <= 0 {
		dims = 1024
	}
	return &Mock{dims: dims}
}

// Dimensions implements ingest.EmbeddingService.
func (m *Mock) Dimensions() int { return m.dims }

// Embed implements ingest.EmbeddingService.
func (m *Mock) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *Mock) vector(text string) []float32 {
	vec := make([]float64, m.dims)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := 0; i < m.dims; i++ {
		off := (i % 8) * 4
		if i > 0 && off == 0 {
			block = sha256.Sum256(block[:])
		}
		u := binary.BigEndian.Uint32(block[off : off+4])
		vec[i] = float64(u)/math.MaxUint32*2 - 1
	}
	return normalize(vec)
}
