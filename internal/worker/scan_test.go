package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

func TestScanStoresPageOutsideQueue(t *testing.T) {
	t.Parallel()
	h := newHarness()
	extractor := newFakeExtractor(succeed)
	proc := New(h.deps(extractor), testConfig(), nil)

	res, err := proc.Scan(context.Background(), " https://x.edu/paper.pdf?utm_source=a#frag ")

	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.Equal(t, "https://x.edu/paper.pdf", res.Page.URL)
	assert.Equal(t, SourceScan, res.Page.Source)
	assert.Equal(t, "Soil Carbon Survey", res.Page.Fields.Title)
	assert.InDelta(t, 1.0, l2(res.Page.CombinedEmbedding), 1e-5)
	assert.NotEmpty(t, res.Page.FieldEmbeddings)
	assert.Equal(t, 1, extractor.callsFor("https://x.edu/paper.pdf"))

	stored, err := h.store.FindActivePageByURL(context.Background(), "https://x.edu/paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, res.Page.ID, stored.ID)

	counts, err := h.queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts[ingest.StatusPending]+counts[ingest.StatusDone])
	assert.Len(t, h.publisher.Messages(), 1)
}

func TestScanReturnsExistingPage(t *testing.T) {
	t.Parallel()
	h := newHarness()
	extractor := newFakeExtractor(succeed)
	proc := New(h.deps(extractor), testConfig(), nil)

	first, err := proc.Scan(context.Background(), "https://x.edu/a")
	require.NoError(t, err)
	second, err := proc.Scan(context.Background(), "https://x.edu/a#again")

	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Page.ID, second.Page.ID)
	assert.Equal(t, 1, extractor.callsFor("https://x.edu/a"))
}

func TestScanErrors(t *testing.T) {
	t.Parallel()
	h := newHarness()
	proc := New(h.deps(newFakeExtractor(func(_ context.Context, url string, _ int) (ingest.Document, error) {
		return ingest.Document{}, &ingest.ExtractionError{URL: url, Err: errors.New("status 404")}
	})), testConfig(), nil)

	_, err := proc.Scan(context.Background(), "not a url")
	require.ErrorIs(t, err, ingest.ErrInvalidURL)

	_, err = proc.Scan(context.Background(), "https://x.edu/gone")
	require.ErrorIs(t, err, ingest.ErrExtraction)
	_, err = h.store.FindActivePageByURL(context.Background(), "https://x.edu/gone")
	assert.ErrorIs(t, err, ingest.ErrNotFound)
}
