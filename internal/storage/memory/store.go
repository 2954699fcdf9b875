// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// Store keeps pages, embeddings, pending items, and reconstructions in maps.
type Store struct {
	mu              sync.RWMutex
	pages           map[string]ingest.Page
	pageOrder       []string
	embeddings      map[string][]float32
	pending         map[string]ingest.PendingItem
	reconstructions map[string][]ingest.Reconstruction
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		pages:           make(map[string]ingest.Page),
		embeddings:      make(map[string][]float32),
		pending:         make(map[string]ingest.PendingItem),
		reconstructions: make(map[string][]ingest.Reconstruction),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}

// InsertPage stores a new page.
func (s *Store) InsertPage(_ context.Context, page ingest.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pages[page.ID]; exists {
		return fmt.Errorf("insert page %s: %w", page.ID, ingest.ErrDuplicate)
	}
	s.pages[page.ID] = clonePage(page)
	s.pageOrder = append(s.pageOrder, page.ID)
	return nil
}

// InsertEmbedding stores the embedding row for a page. Re-inserting for the
// same page keeps the first row.
func (s *Store) InsertEmbedding(_ context.Context, pageID string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[pageID]; !ok {
		return fmt.Errorf("insert embedding for %s: %w", pageID, ingest.ErrNotFound)
	}
	if _, exists := s.embeddings[pageID]; exists {
		return nil
	}
	s.embeddings[pageID] = slices.Clone(vector)
	return nil
}

// Embedding returns the stored embedding row for a page.
func (s *Store) Embedding(pageID string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.embeddings[pageID]
	return slices.Clone(vec), ok
}

// GetPage fetches a page by ID.
func (s *Store) GetPage(_ context.Context, id string) (ingest.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[id]
	if !ok {
		return ingest.Page{}, fmt.Errorf("get page %s: %w", id, ingest.ErrNotFound)
	}
	return clonePage(page), nil
}

// FindActivePageByURL returns the oldest non-decayed page with the given URL.
func (s *Store) FindActivePageByURL(_ context.Context, canonicalURL string) (ingest.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.pageOrder {
		page := s.pages[id]
		if page.URL == canonicalURL && !page.IsDecayed {
			return clonePage(page), nil
		}
	}
	return ingest.Page{}, fmt.Errorf("find page %s: %w", canonicalURL, ingest.ErrNotFound)
}

// ListActivePages returns every non-decayed page in insertion order.
func (s *Store) ListActivePages(context.Context) ([]ingest.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Page, 0, len(s.pageOrder))
	for _, id := range s.pageOrder {
		if page := s.pages[id]; !page.IsDecayed {
			out = append(out, clonePage(page))
		}
	}
	return out, nil
}

// MarkPageDecayed flags a page as decayed. Already-decayed pages keep their
// original timestamp.
func (s *Store) MarkPageDecayed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok {
		return fmt.Errorf("mark page %s decayed: %w", id, ingest.ErrNotFound)
	}
	if page.IsDecayed {
		return nil
	}
	page.IsDecayed = true
	page.DecayedAt = pointerTime(at)
	s.pages[id] = page
	return nil
}

// SaveReconstruction appends a reconstruction for a page.
func (s *Store) SaveReconstruction(_ context.Context, rec ingest.Reconstruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[rec.PageID]; !ok {
		return fmt.Errorf("save reconstruction for %s: %w", rec.PageID, ingest.ErrNotFound)
	}
	s.reconstructions[rec.PageID] = append(s.reconstructions[rec.PageID], rec)
	return nil
}

// Reconstructions returns the reconstructions saved for a page.
func (s *Store) Reconstructions(pageID string) []ingest.Reconstruction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.reconstructions[pageID])
}

// InsertPending stores a new pending item. It fails with ErrDuplicate when an
// open item already holds the same URL.
func (s *Store) InsertPending(_ context.Context, item ingest.PendingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[item.ID]; exists {
		return fmt.Errorf("insert pending %s: %w", item.ID, ingest.ErrDuplicate)
	}
	for _, existing := range s.pending {
		if existing.URL == item.URL && existing.Status.Open() {
			return fmt.Errorf("insert pending %s: %w", item.URL, ingest.ErrDuplicate)
		}
	}
	s.pending[item.ID] = clonePending(item)
	return nil
}

// GetPending fetches a pending item by ID.
func (s *Store) GetPending(_ context.Context, id string) (ingest.PendingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.pending[id]
	if !ok {
		return ingest.PendingItem{}, fmt.Errorf("get pending %s: %w", id, ingest.ErrNotFound)
	}
	return clonePending(item), nil
}

// FindOpenPendingByURL returns the pending or processing item for a URL.
func (s *Store) FindOpenPendingByURL(_ context.Context, canonicalURL string) (ingest.PendingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.pending {
		if item.URL == canonicalURL && item.Status.Open() {
			return clonePending(item), nil
		}
	}
	return ingest.PendingItem{}, fmt.Errorf("find pending %s: %w", canonicalURL, ingest.ErrNotFound)
}

// ListPending returns items in the given status ordered by priority (desc)
// then addedAt (asc). A non-positive limit returns every match.
func (s *Store) ListPending(_ context.Context, status ingest.PendingStatus, limit int) ([]ingest.PendingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.PendingItem, 0)
	for _, item := range s.pending {
		if item.Status == status {
			out = append(out, clonePending(item))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimPending atomically moves a pending item to processing.
func (s *Store) ClaimPending(_ context.Context, id string, at time.Time) (ingest.PendingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.pending[id]
	if !ok {
		return ingest.PendingItem{}, fmt.Errorf("claim pending %s: %w", id, ingest.ErrNotFound)
	}
	if !item.Status.CanTransition(ingest.StatusProcessing) {
		return ingest.PendingItem{}, fmt.Errorf("claim pending %s from %s: %w", id, item.Status, ingest.ErrInvalidTransition)
	}
	item.Status = ingest.StatusProcessing
	item.Attempts++
	item.LastAttemptedAt = pointerTime(at)
	s.pending[id] = item
	return clonePending(item), nil
}

// CompletePending moves a processing item to a terminal status.
func (s *Store) CompletePending(
	_ context.Context,
	id string,
	status ingest.PendingStatus,
	metadata map[string]any,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.pending[id]
	if !ok {
		return fmt.Errorf("complete pending %s: %w", id, ingest.ErrNotFound)
	}
	if !item.Status.CanTransition(status) || status == ingest.StatusProcessing {
		return fmt.Errorf("complete pending %s from %s to %s: %w", id, item.Status, status, ingest.ErrInvalidTransition)
	}
	item.Status = status
	if metadata != nil {
		item.Metadata = maps.Clone(metadata)
	}
	s.pending[id] = item
	return nil
}

// CountPending returns the number of items per status.
func (s *Store) CountPending(context.Context) (map[ingest.PendingStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[ingest.PendingStatus]int, 4)
	for _, item := range s.pending {
		counts[item.Status]++
	}
	return counts, nil
}

func clonePage(page ingest.Page) ingest.Page {
	out := page
	out.CombinedEmbedding = slices.Clone(page.CombinedEmbedding)
	if page.FieldEmbeddings != nil {
		out.FieldEmbeddings = make(map[string][]float32, len(page.FieldEmbeddings))
		for name, vec := range page.FieldEmbeddings {
			out.FieldEmbeddings[name] = slices.Clone(vec)
		}
	}
	out.Hints.Lines = slices.Clone(page.Hints.Lines)
	out.Hints.Keywords = slices.Clone(page.Hints.Keywords)
	if page.DecayedAt != nil {
		out.DecayedAt = pointerTime(*page.DecayedAt)
	}
	return out
}

func clonePending(item ingest.PendingItem) ingest.PendingItem {
	out := item
	out.Metadata = maps.Clone(item.Metadata)
	if item.LastAttemptedAt != nil {
		out.LastAttemptedAt = pointerTime(*item.LastAttemptedAt)
	}
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
