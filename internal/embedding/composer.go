// Package embedding builds page embeddings: per-field vectors from an
// embedding service combined into one weighted, unit-length vector.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// Field names used as keys of EmbeddingResult.Fields.
const (
	FieldTitle           = "title"
	FieldMetaDescription = "meta_description"
	FieldHeadings        = "headings"
	FieldIntroParagraphs = "intro_paragraphs"
	FieldKeywords        = "keywords"
	FieldBodySummary     = "body_summary"
)

// DefaultWeights are the importance weights applied to each field. They do
// not need to sum to one; surviving weights are renormalized.
var DefaultWeights = map[string]float64{
	FieldTitle:           0.3,
	FieldMetaDescription: 0.2,
	FieldHeadings:        0.2,
	FieldIntroParagraphs: 0.2,
	FieldKeywords:        0.1,
	FieldBodySummary:     0.1,
}

var fieldOrder = []string{
	FieldTitle,
	FieldMetaDescription,
	FieldHeadings,
	FieldIntroParagraphs,
	FieldKeywords,
	FieldBodySummary,
}

// ErrGeneration matches every *GenerationError.
var ErrGeneration = errors.New("embedding generation failed")

// GenerationError reports a failed or malformed embedding request.
type GenerationError struct {
	Expected int
	Got      int
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding generation: %v", e.Err)
	}
	return fmt.Sprintf("embedding generation: expected %d vectors, got %d", e.Expected, e.Got)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrGeneration) match any generation failure.
func (e *GenerationError) Is(target error) bool {
	return target == ErrGeneration
}

// Composer combines per-field embeddings into one page vector.
type Composer struct {
	service ingest.EmbeddingService
	weights map[string]float64
}

// NewComposer creates a Composer using DefaultWeights.
func NewComposer(service ingest.EmbeddingService) *Composer {
	return &Composer{service: service, weights: DefaultWeights}
}

// Compose embeds the non-empty fields in one batched call and returns their
// weighted, L2-normalized sum alongside the raw per-field vectors. With no
// non-empty fields the combined vector is all zeros.
func (c *Composer) Compose(ctx context.Context, fields ingest.ExtractedFields) (ingest.EmbeddingResult, error) {
	values := map[string]string{
		FieldTitle:           fields.Title,
		FieldMetaDescription: fields.MetaDescription,
		FieldHeadings:        fields.Headings,
		FieldIntroParagraphs: fields.IntroParagraphs,
		FieldKeywords:        fields.Keywords,
		FieldBodySummary:     fields.BodyText,
	}

	var names, texts []string
	for _, name := range fieldOrder {
		if strings.TrimSpace(values[name]) == "" {
			continue
		}
		names = append(names, name)
		texts = append(texts, values[name])
	}

	dims := c.service.Dimensions()
	if len(texts) == 0 {
		return ingest.EmbeddingResult{
			Combined: make([]float32, dims),
			Fields:   map[string][]float32{},
		}, nil
	}

	vectors, err := c.service.Embed(ctx, texts)
	if err != nil {
		return ingest.EmbeddingResult{}, &GenerationError{Expected: len(texts), Err: err}
	}
	if len(vectors) != len(texts) {
		return ingest.EmbeddingResult{}, &GenerationError{Expected: len(texts), Got: len(vectors)}
	}

	var total float64
	for _, name := range names {
		total += c.weights[name]
	}

	width := c.service.Dimensions()
	if width <= 0 {
		width = len(vectors[0])
	}
	if width == 0 {
		return ingest.EmbeddingResult{}, &GenerationError{
			Expected: len(texts),
			Got:      len(vectors),
			Err:      errors.New("service returned empty vectors"),
		}
	}
	sum := make([]float64, width)
	perField := make(map[string][]float32, len(names))
	for i, name := range names {
		vec := vectors[i]
		if len(vec) != width {
			return ingest.EmbeddingResult{}, &GenerationError{
				Expected: len(texts),
				Got:      len(vectors),
				Err:      fmt.Errorf("field %s has dimension %d, want %d", name, len(vec), width),
			}
		}
		perField[name] = vec
		w := c.weights[name] / total
		for j, v := range vec {
			sum[j] += w * float64(v)
		}
	}

	return ingest.EmbeddingResult{Combined: normalize(sum), Fields: perField}, nil
}

// normalize scales v to unit length. A zero vector is returned unchanged.
func normalize(v []float64) []float32 {
	var sq float64
	for _, x := range v {
		sq += x * x
	}
	out := make([]float32, len(v))
	norm := math.Sqrt(sq)
	for i, x := range v {
		if norm == 0 {
			out[i] = float32(x)
			continue
		}
		out[i] = float32(x / norm)
	}
	return out
}
