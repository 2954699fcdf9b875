package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

var t0 = time.Unix(1700000000, 0).UTC()

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func pendingRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "url", "source", "priority", "status", "metadata", "added_at", "last_attempted_at", "attempts",
	})
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPendingMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	item := ingest.PendingItem{
		ID:       "p1",
		URL:      "https://x.edu/paper.pdf",
		Source:   "manual",
		Priority: 0.5,
		Status:   ingest.StatusPending,
		Metadata: map[string]any{"title": "Paper"},
		AddedAt:  t0,
	}
	mock.ExpectExec("INSERT INTO pending_items").
		WithArgs("p1", item.URL, "manual", 0.5, "pending", []byte(`{"title":"Paper"}`), t0, pgxmock.AnyArg(), 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO pending_items").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	require.NoError(t, store.InsertPending(context.Background(), item))
	err := store.InsertPending(context.Background(), item)
	require.ErrorIs(t, err, ingest.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingOrdersAndLimits(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pendingRows().
		AddRow("a", "https://a", "arxiv", 0.9, "pending", []byte(`{}`), t0, nil, 0).
		AddRow("b", "https://b", "crossref", 0.5, "pending", []byte(`{"title":"B"}`), t0, nil, 0).
		AddRow("c", "https://c", "openalex", 0.1, "pending", []byte(`{}`), t0, nil, 0)
	mock.ExpectQuery(`SELECT .+ FROM pending_items WHERE status = \$1 ORDER BY priority DESC, added_at ASC, id ASC LIMIT 3`).
		WithArgs("pending").
		WillReturnRows(rows)

	items, err := store.ListPending(context.Background(), ingest.StatusPending, 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, []float64{0.9, 0.5, 0.1}, []float64{items[0].Priority, items[1].Priority, items[2].Priority})
	require.Equal(t, "B", items[1].Metadata["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingIsConditional(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := t0.Add(time.Minute)
	mock.ExpectQuery(`UPDATE pending_items SET status = \$1, attempts = attempts \+ 1, last_attempted_at = \$2 WHERE id = \$3 AND status = \$4 RETURNING`).
		WithArgs("processing", at, "p1", "pending").
		WillReturnRows(pendingRows().AddRow("p1", "https://a", "arxiv", 0.9, "processing", []byte(`{}`), t0, &at, 1))

	item, err := store.ClaimPending(context.Background(), "p1", at)
	require.NoError(t, err)
	require.Equal(t, ingest.StatusProcessing, item.Status)
	require.Equal(t, 1, item.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingLostRace(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := t0.Add(time.Minute)
	mock.ExpectQuery("UPDATE pending_items").
		WithArgs("processing", at, "p1", "pending").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .+ FROM pending_items WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(pendingRows().AddRow("p1", "https://a", "arxiv", 0.9, "processing", []byte(`{}`), t0, &at, 1))

	_, err := store.ClaimPending(context.Background(), "p1", at)
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletePending(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE pending_items SET status = \$1, metadata = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("failed", []byte(`{"failed_reason":"boom","title":"T"}`), "p1", "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.CompletePending(context.Background(), "p1", ingest.StatusFailed,
		map[string]any{"title": "T", "failed_reason": "boom"})
	require.NoError(t, err)

	err = store.CompletePending(context.Background(), "p1", ingest.StatusPending, nil)
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletePendingWrongState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE pending_items").
		WithArgs("done", "p1", "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT .+ FROM pending_items").
		WithArgs("p1").
		WillReturnRows(pendingRows().AddRow("p1", "https://a", "arxiv", 0.9, "pending", []byte(`{}`), t0, nil, 0))

	err := store.CompletePending(context.Background(), "p1", ingest.StatusDone, nil)
	require.ErrorIs(t, err, ingest.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActivePageByURLNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM pages p LEFT JOIN page_embeddings e ON e.page_id = p.id WHERE p.is_decayed = \$1 AND p.url = \$2`).
		WithArgs(false, "https://x.edu/paper.pdf").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindActivePageByURL(context.Background(), "https://x.edu/paper.pdf")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPageAndEmbedding(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	page := ingest.Page{
		ID:               "pg1",
		URL:              "https://x.edu/paper.pdf",
		Title:            "Paper",
		Fields:           ingest.ExtractedFields{Title: "Paper", BodyText: "body"},
		Source:           "arxiv",
		DecayProbability: 0.4,
		FieldEmbeddings:  map[string][]float32{"title": {1}},
		CreatedAt:        t0,
	}
	mock.ExpectExec("INSERT INTO pages").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO page_embeddings \(page_id,embedding\) VALUES \(\$1,\$2\) ON CONFLICT \(page_id\) DO NOTHING`).
		WithArgs("pg1", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	require.NoError(t, store.InsertPage(context.Background(), page))
	err := store.InsertEmbedding(context.Background(), "pg1", []float32{1, 0})
	require.ErrorContains(t, err, "insert embedding")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPageDecayed(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := t0.Add(time.Hour)
	mock.ExpectExec(`UPDATE pages SET is_decayed = \$1, decayed_at = COALESCE\(decayed_at, \$2\) WHERE id = \$3`).
		WithArgs(true, at, "pg1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE pages").
		WithArgs(true, at, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.MarkPageDecayed(context.Background(), "pg1", at))
	require.ErrorIs(t, store.MarkPageDecayed(context.Background(), "missing", at), ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountPending(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT status, count\(\*\) FROM pending_items GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).AddRow("pending", 3).AddRow("failed", 1))

	counts, err := store.CountPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, counts[ingest.StatusPending])
	require.Equal(t, 1, counts[ingest.StatusFailed])
	require.NoError(t, mock.ExpectationsWereMet())
}
