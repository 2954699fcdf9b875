package embedding

import (
	"context"
	"fmt"

	"github.com/JakeFAU/doc-freshness/internal/cohere"
)

// maxCohereBatch is the largest number of texts the embed endpoint accepts per call.
const maxCohereBatch = 96

// Cohere embeds texts with the Cohere embed endpoint.
type Cohere struct {
	client *cohere.Client
	model  string
	dims   int
}

// NewCohere builds a Cohere-backed EmbeddingService.
func NewCohere(client *cohere.Client, model string, dims int) *Cohere {
	return &Cohere{client: client, model: model, dims: dims}
}

// Dimensions implements ingest.EmbeddingService.
func (c *Cohere) Dimensions() int { return c.dims }

// Embed implements ingest.EmbeddingService.
func (c *Cohere) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxCohereBatch {
		end := min(start+maxCohereBatch, len(texts))
		vecs, err := c.client.Embed(ctx, cohere.EmbedRequest{
			Texts:     texts[start:end],
			Model:     c.model,
			InputType: cohere.InputSearchDocument,
			Truncate:  "END",
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("cohere returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
