package ingest

import (
	"net/http"
	"time"
)

// PendingStatus represents the lifecycle state of a pending item.
type PendingStatus string

// Pending status values persisted in the pending store.
const (
	StatusPending    PendingStatus = "pending"
	StatusProcessing PendingStatus = "processing"
	StatusDone       PendingStatus = "done"
	StatusFailed     PendingStatus = "failed"
)

// AllStatuses lists every pending status in lifecycle order.
var AllStatuses = []PendingStatus{StatusPending, StatusProcessing, StatusDone, StatusFailed}

// Valid reports whether s is a known status.
func (s PendingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s PendingStatus) CanTransition(next PendingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusDone || next == StatusFailed
	default:
		return false
	}
}

// Open reports whether the item still occupies its URL (pending or in flight).
func (s PendingStatus) Open() bool {
	return s == StatusPending || s == StatusProcessing
}

// Metadata key written when an item fails.
const MetadataFailedReason = "failed_reason"

// Candidate is a URL produced by a connector and not yet checked against the store.
type Candidate struct {
	URL          string `json:"url"`
	CanonicalURL string `json:"canonical_url"`
	Title        string `json:"title,omitempty"`
	Source       string `json:"source"`
}

// PendingItem is a queued unit of work tracked by the pending state machine.
type PendingItem struct {
	ID              string         `json:"id"`
	URL             string         `json:"url"`
	Source          string         `json:"source"`
	Priority        float64        `json:"priority"`
	Status          PendingStatus  `json:"status"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	AddedAt         time.Time      `json:"added_at"`
	LastAttemptedAt *time.Time     `json:"last_attempted_at,omitempty"`
	Attempts        int            `json:"attempts"`
}

// ExtractedFields holds the structured text pulled out of a document.
type ExtractedFields struct {
	Title           string `json:"title"`
	MetaDescription string `json:"meta_description"`
	Headings        string `json:"headings"`
	IntroParagraphs string `json:"intro_paragraphs"`
	Keywords        string `json:"keywords"`
	BodyText        string `json:"body_text"`
}

// Document is the extractor's output for a single URL.
type Document struct {
	URL          string
	FinalURL     string
	Fields       ExtractedFields
	Date         string
	Author       string
	Truncated    bool
	ContentType  string
	UsedHeadless bool
	Raw          []byte
}

// Hints are short human-readable cues derived from a page at save time.
type Hints struct {
	Lines    []string `json:"lines"`
	Keywords []string `json:"keywords,omitempty"`
}

// EmbeddingResult is the composer output for one document.
type EmbeddingResult struct {
	Combined []float32            `json:"combined"`
	Fields   map[string][]float32 `json:"fields"`
}

// Page is a processed document persisted with its embeddings and decay state.
type Page struct {
	ID                string               `json:"id"`
	URL               string               `json:"url"`
	Title             string               `json:"title"`
	Fields            ExtractedFields      `json:"extracted_fields"`
	Date              string               `json:"date,omitempty"`
	Author            string               `json:"author,omitempty"`
	Source            string               `json:"source"`
	DecayProbability  float64              `json:"decay_probability"`
	IsDecayed         bool                 `json:"is_decayed"`
	CombinedEmbedding []float32            `json:"combined_embedding,omitempty"`
	FieldEmbeddings   map[string][]float32 `json:"field_embeddings,omitempty"`
	Hints             Hints                `json:"hints"`
	SnapshotURI       string               `json:"snapshot_uri,omitempty"`
	ContentHash       string               `json:"content_hash,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	DecayedAt         *time.Time           `json:"decayed_at,omitempty"`
}

// Reconstruction is a generated summary of a page rebuilt from its embedding.
type Reconstruction struct {
	ID        string    `json:"id"`
	PageID    string    `json:"page_id"`
	Summary   string    `json:"summary"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// PageEvent is published when a page is ingested or flagged as decayed.
type PageEvent struct {
	Type             string    `json:"type"`
	PageID           string    `json:"page_id"`
	URL              string    `json:"url"`
	Source           string    `json:"source,omitempty"`
	DecayProbability float64   `json:"decay_probability"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Event types carried by PageEvent.
const (
	EventPageIngested = "page.ingested"
	EventPageDecayed  = "page.decayed"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL                   string
	Headers               http.Header
	UseHeadless           bool
	RespectRobots         bool
	RespectRobotsProvided bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	// RobotsIndeterminate is set when robots.txt could not be read and the
	// fetch proceeded under an allow-all assumption.
	RobotsIndeterminate bool
}

// ConnectorResult is what a connector returns. A non-nil Err means the
// connector took its fallback path and Candidates is empty.
type ConnectorResult struct {
	Candidates []Candidate
	Err        error
}

// Fallback reports whether the connector failed and returned nothing.
func (r ConnectorResult) Fallback() bool {
	return r.Err != nil
}

// ConnectorSuccess wraps candidates produced without error.
func ConnectorSuccess(candidates []Candidate) ConnectorResult {
	return ConnectorResult{Candidates: candidates}
}

// ConnectorFailure records a swallowed connector error.
func ConnectorFailure(err error) ConnectorResult {
	return ConnectorResult{Err: err}
}
