package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/discovery"
	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/pipeline"
	"github.com/JakeFAU/doc-freshness/internal/queue"
	"github.com/JakeFAU/doc-freshness/internal/reconstruct"
	"github.com/JakeFAU/doc-freshness/internal/scheduler"
	"github.com/JakeFAU/doc-freshness/internal/worker"
)

func TestServer_TriggerDiscovery_ReturnsCounts(t *testing.T) {
	t.Parallel()

	svc := &fakeService{summary: discovery.Summary{Added: 3, Skipped: 2}}
	rec := serve(t, svc, http.MethodPost, "/v1/discovery/trigger", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 3, body["added"])
	assert.EqualValues(t, 2, body["skipped"])
}

func TestServer_TriggerDiscovery_ConflictWhenRunning(t *testing.T) {
	t.Parallel()

	svc := &fakeService{discoveryErr: fmt.Errorf("run discovery: %w", ingest.ErrAlreadyRunning)}
	rec := serve(t, svc, http.MethodPost, "/v1/discovery/trigger", "")

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestServer_TriggerDiscovery_InternalError(t *testing.T) {
	t.Parallel()

	svc := &fakeService{discoveryErr: errors.New("dsn=postgres://secret")}
	rec := serve(t, svc, http.MethodPost, "/v1/discovery/trigger", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestServer_TriggerBackgroundJobs(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	rec := serve(t, svc, http.MethodPost, "/v1/batch/trigger", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = serve(t, svc, http.MethodPost, "/v1/decay/trigger", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, svc.batchCalls)
	assert.Equal(t, 1, svc.decayCalls)

	svc.triggerErr = ingest.ErrAlreadyRunning
	rec = serve(t, svc, http.MethodPost, "/v1/batch/trigger", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_EnqueuePending(t *testing.T) {
	t.Parallel()

	t.Run("added", func(t *testing.T) {
		t.Parallel()
		svc := &fakeService{enqueue: queue.Result{Added: true, Item: ingest.PendingItem{ID: "p1", URL: "https://x.edu/a.pdf"}}}
		rec := serve(t, svc, http.MethodPost, "/v1/pending", `{"url":"https://x.edu/a.pdf","priority":0.7,"title":"A"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.NotNil(t, svc.gotCandidate.Priority)
		assert.InDelta(t, 0.7, *svc.gotCandidate.Priority, 1e-9)
		assert.Equal(t, "A", svc.gotCandidate.Title)
		assert.Contains(t, rec.Body.String(), `"id":"p1"`)
	})

	t.Run("skipped", func(t *testing.T) {
		t.Parallel()
		svc := &fakeService{enqueue: queue.Result{SkipReason: queue.SkipPageExists}}
		rec := serve(t, svc, http.MethodPost, "/v1/pending", `{"url":"https://x.edu/a.pdf"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, queue.SkipPageExists, decode(t, rec)["skipped"])
	})

	for name, body := range map[string]string{
		"invalid json":      "{nope",
		"missing url":       `{"source":"x"}`,
		"negative priority": `{"url":"https://x.edu","priority":-1}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, &fakeService{}, http.MethodPost, "/v1/pending", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServer_ListPending(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	rec := serve(t, svc, http.MethodGet, "/v1/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ingest.StatusPending, svc.gotStatus)
	assert.Equal(t, defaultPendingLimit, svc.gotLimit)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())

	rec = serve(t, svc, http.MethodGet, "/v1/pending?status=FAILED&limit=9999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ingest.StatusFailed, svc.gotStatus)
	assert.Equal(t, maxPendingLimit, svc.gotLimit)

	rec = serve(t, svc, http.MethodGet, "/v1/pending?status=stale", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, svc, http.MethodGet, "/v1/pending?limit=-2", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetPage(t *testing.T) {
	t.Parallel()

	svc := &fakeService{page: ingest.Page{ID: "pg1", URL: "https://x.edu/a", CombinedEmbedding: []float32{1, 0, 0}}}
	rec := serve(t, svc, http.MethodGet, "/v1/pages/pg1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)["page"].(map[string]any)
	assert.Equal(t, "pg1", page["id"])
	assert.EqualValues(t, 3, page["embedding_dims"])
	assert.NotContains(t, page, "combined_embedding")

	rec = serve(t, &fakeService{pageErr: ingest.ErrNotFound}, http.MethodGet, "/v1/pages/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ReconstructPage(t *testing.T) {
	t.Parallel()

	svc := &fakeService{rec: ingest.Reconstruction{ID: "r1", PageID: "pg1", Summary: "A survey."}}
	rec := serve(t, svc, http.MethodPost, "/v1/pages/pg1/reconstruct", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A survey.", decode(t, rec)["summary"])

	cases := map[error]int{
		ingest.ErrNotFound:          http.StatusNotFound,
		reconstruct.ErrNoEmbedding:  http.StatusUnprocessableEntity,
		pipeline.ErrUnavailable:     http.StatusServiceUnavailable,
		errors.New("chat exploded"): http.StatusInternalServerError,
	}
	for err, code := range cases {
		rec := serve(t, &fakeService{recErr: err}, http.MethodPost, "/v1/pages/pg1/reconstruct", "")
		assert.Equal(t, code, rec.Code, err.Error())
	}
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	svc := &fakeService{status: pipeline.Status{
		Jobs:    []scheduler.Status{{Name: "decay", Running: true}},
		Pending: map[string]int{"pending": 2},
	}}
	rec := serve(t, svc, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["pending"].(map[string]any)["pending"])
	assert.Equal(t, true, body["jobs"].([]any)[0].(map[string]any)["running"])
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	rec := serve(t, &fakeService{}, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, &fakeService{}, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, &fakeService{readyErr: errors.New("ping failed")}, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	_ = serve(t, &fakeService{}, http.MethodGet, "/healthz", "")
	rec := serve(t, &fakeService{}, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	rec := serve(t, &fakeService{panicOnStatus: true}, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, &fakeService{}, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	NewServer(&fakeService{}, 0, zap.NewNop()).Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

func serve(t *testing.T, svc Service, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	NewServer(svc, time.Second, zap.NewNop()).Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Scan(t *testing.T) {
	t.Parallel()

	page := ingest.Page{
		ID:                "pg1",
		URL:               "https://x.edu/a.pdf",
		Fields:            ingest.ExtractedFields{Title: "Soil Carbon"},
		CombinedEmbedding: []float32{0.6, 0.8},
		FieldEmbeddings:   map[string][]float32{"title": {0.6, 0.8}},
	}

	t.Run("NewPage", func(t *testing.T) {
		t.Parallel()
		svc := &fakeService{scanResult: worker.ScanResult{Page: page}}
		rec := serve(t, svc, http.MethodPost, "/v1/scan", `{"url":"https://x.edu/a.pdf"}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "https://x.edu/a.pdf", svc.gotScanURL)
		body := decode(t, rec)
		assert.Equal(t, "pg1", body["page_id"])
		assert.Equal(t, false, body["existing"])
		assert.Len(t, body["embedding"], 2)
		assert.Contains(t, body["field_embeddings"], "title")
		assert.Equal(t, "Soil Carbon", body["page"].(map[string]any)["extracted_fields"].(map[string]any)["title"])
	})

	t.Run("ExistingPage", func(t *testing.T) {
		t.Parallel()
		svc := &fakeService{scanResult: worker.ScanResult{Page: page, Existing: true}}
		rec := serve(t, svc, http.MethodPost, "/v1/scan", `{"url":"https://x.edu/a.pdf"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode(t, rec)["existing"])
	})

	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"missing url", `{}`, nil, http.StatusBadRequest},
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"invalid url", `{"url":"nope"}`, fmt.Errorf("scan: %w", ingest.ErrInvalidURL), http.StatusBadRequest},
		{"extraction", `{"url":"https://x.edu/gone"}`, &ingest.ExtractionError{URL: "https://x.edu/gone", Err: errors.New("status 404")}, http.StatusUnprocessableEntity},
		{"not configured", `{"url":"https://x.edu/a"}`, pipeline.ErrUnavailable, http.StatusServiceUnavailable},
		{"store down", `{"url":"https://x.edu/a"}`, errors.New("conn reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, &fakeService{scanErr: tc.err}, http.MethodPost, "/v1/scan", tc.body)
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, false, decode(t, rec)["success"])
		})
	}
}

type fakeService struct {
	mu sync.Mutex

	summary      discovery.Summary
	discoveryErr error
	triggerErr   error
	batchCalls   int
	decayCalls   int

	enqueue      queue.Result
	gotCandidate pipeline.ManualCandidate

	gotStatus ingest.PendingStatus
	gotLimit  int

	scanResult worker.ScanResult
	scanErr    error
	gotScanURL string

	page    ingest.Page
	pageErr error
	rec     ingest.Reconstruction
	recErr  error

	status        pipeline.Status
	panicOnStatus bool
	readyErr      error
}

func (f *fakeService) TriggerDiscoveryCycle(context.Context) (discovery.Summary, error) {
	return f.summary, f.discoveryErr
}

func (f *fakeService) TriggerBatchProcessing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	return f.triggerErr
}

func (f *fakeService) TriggerDecayCheck() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decayCalls++
	return f.triggerErr
}

func (f *fakeService) EnqueueManualCandidate(_ context.Context, c pipeline.ManualCandidate) (queue.Result, error) {
	f.gotCandidate = c
	return f.enqueue, nil
}

func (f *fakeService) ScanURL(_ context.Context, rawURL string) (worker.ScanResult, error) {
	f.gotScanURL = rawURL
	return f.scanResult, f.scanErr
}

func (f *fakeService) ListPending(_ context.Context, status ingest.PendingStatus, limit int) ([]ingest.PendingItem, error) {
	f.gotStatus = status
	f.gotLimit = limit
	return nil, nil
}

func (f *fakeService) Page(context.Context, string) (ingest.Page, error) {
	return f.page, f.pageErr
}

func (f *fakeService) Reconstruct(context.Context, string) (ingest.Reconstruction, error) {
	return f.rec, f.recErr
}

func (f *fakeService) Status(context.Context) (pipeline.Status, error) {
	if f.panicOnStatus {
		panic("status exploded")
	}
	return f.status, nil
}

func (f *fakeService) Ready(context.Context) error {
	return f.readyErr
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
