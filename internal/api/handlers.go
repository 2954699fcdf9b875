package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/pipeline"
	"github.com/JakeFAU/doc-freshness/internal/reconstruct"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 500
)

// triggerDiscovery handles POST /v1/discovery/trigger. It waits for the
// cycle and returns {"success":true,"added":n,"skipped":m}, or 409 when a
// cycle is already running.
func (s *Server) triggerDiscovery(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.TriggerDiscoveryCycle(r.Context())
	if err != nil {
		s.writeServiceError(w, "discovery cycle failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"added":   summary.Added,
		"skipped": summary.Skipped,
	})
}

func (s *Server) triggerBatch(w http.ResponseWriter, _ *http.Request) {
	if err := s.service.TriggerBatchProcessing(); err != nil {
		s.writeServiceError(w, "batch trigger failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "message": "batch processing started"})
}

func (s *Server) triggerDecay(w http.ResponseWriter, _ *http.Request) {
	if err := s.service.TriggerDecayCheck(); err != nil {
		s.writeServiceError(w, "decay trigger failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "message": "decay check started"})
}

// enqueuePending handles POST /v1/pending. It returns 201 with the new item,
// or 200 with the skip reason when the URL is already known.
func (s *Server) enqueuePending(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ManualCandidate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if req.Priority != nil && *req.Priority < 0 {
		writeError(w, http.StatusBadRequest, "priority must be non-negative")
		return
	}
	res, err := s.service.EnqueueManualCandidate(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "enqueue failed", err)
		return
	}
	if !res.Added {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "added": false, "skipped": res.SkipReason})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "added": true, "item": res.Item})
}

type scanRequest struct {
	URL string `json:"url"`
}

// scan handles POST /v1/scan. It stores the URL synchronously and returns
// the extracted fields and embeddings: 201 for a new page, 200 when a
// non-decayed page already held the URL.
func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	res, err := s.service.ScanURL(r.Context(), req.URL)
	if err != nil {
		s.writeServiceError(w, "scan failed", err)
		return
	}
	code := http.StatusCreated
	if res.Existing {
		code = http.StatusOK
	}
	fields := res.Page.FieldEmbeddings
	if fields == nil {
		fields = map[string][]float32{}
	}
	writeJSON(w, code, map[string]any{
		"success":          true,
		"existing":         res.Existing,
		"page_id":          res.Page.ID,
		"page":             toPageDTO(res.Page),
		"embedding":        res.Page.CombinedEmbedding,
		"field_embeddings": fields,
	})
}

// listPending handles GET /v1/pending?status=&limit=. Status defaults to
// pending.
func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	status := ingest.StatusPending
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status = ingest.PendingStatus(strings.ToLower(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	limit, err := parseLimit(r, defaultPendingLimit, maxPendingLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.service.ListPending(r.Context(), status, limit)
	if err != nil {
		s.writeServiceError(w, "failed to list pending items", err)
		return
	}
	if items == nil {
		items = []ingest.PendingItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	page, err := s.service.Page(r.Context(), chi.URLParam(r, "page_id"))
	if err != nil {
		s.writeServiceError(w, "failed to load page", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": toPageDTO(page)})
}

func (s *Server) reconstructPage(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.Reconstruct(r.Context(), chi.URLParam(r, "page_id"))
	if err != nil {
		s.writeServiceError(w, "failed to reconstruct page", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": rec.Summary, "reconstruction": rec})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, "failed to load status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// writeServiceError maps pipeline errors onto status codes. Unexpected
// errors are logged and reported with msg only.
func (s *Server) writeServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, ingest.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "job already running")
	case errors.Is(err, ingest.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, pipeline.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ingest.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "invalid url")
	case errors.Is(err, reconstruct.ErrNoEmbedding), errors.Is(err, ingest.ErrExtraction):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error(msg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

type pageDTO struct {
	ID               string                 `json:"id"`
	URL              string                 `json:"url"`
	Title            string                 `json:"title"`
	Source           string                 `json:"source"`
	Date             string                 `json:"date,omitempty"`
	Author           string                 `json:"author,omitempty"`
	Fields           ingest.ExtractedFields `json:"extracted_fields"`
	Hints            ingest.Hints           `json:"hints"`
	DecayProbability float64                `json:"decay_probability"`
	IsDecayed        bool                   `json:"is_decayed"`
	DecayedAt        *time.Time             `json:"decayed_at,omitempty"`
	EmbeddingDims    int                    `json:"embedding_dims"`
	SnapshotURI      string                 `json:"snapshot_uri,omitempty"`
	ContentHash      string                 `json:"content_hash,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

func toPageDTO(page ingest.Page) pageDTO {
	return pageDTO{
		ID:               page.ID,
		URL:              page.URL,
		Title:            page.Title,
		Source:           page.Source,
		Date:             page.Date,
		Author:           page.Author,
		Fields:           page.Fields,
		Hints:            page.Hints,
		DecayProbability: page.DecayProbability,
		IsDecayed:        page.IsDecayed,
		DecayedAt:        page.DecayedAt,
		EmbeddingDims:    len(page.CombinedEmbedding),
		SnapshotURI:      page.SnapshotURI,
		ContentHash:      page.ContentHash,
		CreatedAt:        page.CreatedAt,
	}
}
