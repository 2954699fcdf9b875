package ingest

import (
	"context"
	"time"
)

// Connector produces candidates from one external provider. It never returns
// an error directly; failures surface through ConnectorResult.Err.
type Connector interface {
	Name() string
	Fetch(ctx context.Context, cutoff time.Time) ConnectorResult
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Extractor turns a URL into structured fields.
type Extractor interface {
	Extract(ctx context.Context, url string) (Document, error)
}

// EmbeddingService embeds texts, one vector per input in input order.
type EmbeddingService interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Summarizer turns an embedding plus optional page metadata into prose.
type Summarizer interface {
	Summarize(ctx context.Context, vector []float32, metadata map[string]string) (string, error)
	Model() string
}

// PageStore persists pages, their embedding rows, and reconstructions.
type PageStore interface {
	InsertPage(ctx context.Context, page Page) error
	InsertEmbedding(ctx context.Context, pageID string, vector []float32) error
	GetPage(ctx context.Context, id string) (Page, error)
	FindActivePageByURL(ctx context.Context, canonicalURL string) (Page, error)
	ListActivePages(ctx context.Context) ([]Page, error)
	MarkPageDecayed(ctx context.Context, id string, at time.Time) error
	SaveReconstruction(ctx context.Context, rec Reconstruction) error
}

// PendingStore persists pending items and their status transitions.
type PendingStore interface {
	InsertPending(ctx context.Context, item PendingItem) error
	GetPending(ctx context.Context, id string) (PendingItem, error)
	FindOpenPendingByURL(ctx context.Context, canonicalURL string) (PendingItem, error)
	// ListPending returns items with the given status, highest priority first,
	// oldest first among equal priorities.
	ListPending(ctx context.Context, status PendingStatus, limit int) ([]PendingItem, error)
	// ClaimPending moves a pending item to processing, bumping attempts and
	// stamping lastAttemptedAt. It returns ErrInvalidTransition when the item
	// is no longer pending.
	ClaimPending(ctx context.Context, id string, at time.Time) (PendingItem, error)
	// CompletePending moves a processing item to done or failed, replacing
	// its metadata. It returns ErrInvalidTransition when the item is not processing.
	CompletePending(ctx context.Context, id string, status PendingStatus, metadata map[string]any) error
	CountPending(ctx context.Context) (map[PendingStatus]int, error)
}

// Store bundles every persistence concern behind one handle.
type Store interface {
	PageStore
	PendingStore
	Ping(ctx context.Context) error
	Close()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes page events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
