// Package sqlite provides a single-node SQLite implementation of ingest.Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	meta_description TEXT NOT NULL DEFAULT '',
	headings TEXT NOT NULL DEFAULT '',
	intro_paragraphs TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '',
	body_text TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	decay_probability REAL NOT NULL DEFAULT 0.5,
	is_decayed INTEGER NOT NULL DEFAULT 0,
	field_embeddings TEXT NOT NULL DEFAULT '{}',
	hints TEXT NOT NULL DEFAULT '{}',
	snapshot_uri TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	decayed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pages_active_url ON pages(url) WHERE is_decayed = 0;

CREATE TABLE IF NOT EXISTS page_embeddings (
	page_id TEXT PRIMARY KEY,
	embedding TEXT NOT NULL,
	FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pending_items (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	priority REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	metadata TEXT NOT NULL DEFAULT '{}',
	added_at TIMESTAMP NOT NULL,
	last_attempted_at TIMESTAMP,
	attempts INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_open_url ON pending_items(url) WHERE status IN ('pending', 'processing');
CREATE INDEX IF NOT EXISTS idx_pending_selection ON pending_items(status, priority DESC, added_at);

CREATE TABLE IF NOT EXISTS reconstructions (
	id TEXT PRIMARY KEY,
	page_id TEXT NOT NULL,
	summary TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
);
`

var pageColumns = []string{
	"p.id", "p.url", "p.title", "p.meta_description", "p.headings", "p.intro_paragraphs",
	"p.keywords", "p.body_text", "p.date", "p.author", "p.source", "p.decay_probability",
	"p.is_decayed", "p.field_embeddings", "p.hints", "p.snapshot_uri", "p.content_hash",
	"p.created_at", "p.decayed_at", "e.embedding",
}

var pendingColumns = []string{
	"id", "url", "source", "priority", "status", "metadata", "added_at", "last_attempted_at", "attempts",
}

// Store implements ingest.Store on SQLite. Vectors are stored as JSON text.
type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() {
	_ = s.db.Close()
}

func (s *Store) exec(ctx context.Context, query sq.Sqlizer) (sql.Result, error) {
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.ExecContext(ctx, sqlText, args...)
}

func (s *Store) queryRow(ctx context.Context, query sq.Sqlizer) (*sql.Row, error) {
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryRowContext(ctx, sqlText, args...), nil
}

func (s *Store) query(ctx context.Context, query sq.Sqlizer) (*sql.Rows, error) {
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryContext(ctx, sqlText, args...)
}

type scanner interface {
	Scan(dest ...any) error
}

// InsertPage inserts a page row.
func (s *Store) InsertPage(ctx context.Context, page ingest.Page) error {
	fieldsJSON, err := marshalText(page.FieldEmbeddings, "{}")
	if err != nil {
		return fmt.Errorf("marshal field embeddings: %w", err)
	}
	hintsJSON, err := marshalText(page.Hints, "{}")
	if err != nil {
		return fmt.Errorf("marshal hints: %w", err)
	}
	query := sq.Insert("pages").
		Columns(
			"id", "url", "title", "meta_description", "headings", "intro_paragraphs", "keywords",
			"body_text", "date", "author", "source", "decay_probability", "is_decayed",
			"field_embeddings", "hints", "snapshot_uri", "content_hash", "created_at",
		).
		Values(
			page.ID, page.URL, page.Title, page.Fields.MetaDescription, page.Fields.Headings,
			page.Fields.IntroParagraphs, page.Fields.Keywords, page.Fields.BodyText, page.Date,
			page.Author, page.Source, page.DecayProbability, page.IsDecayed, fieldsJSON, hintsJSON,
			page.SnapshotURI, page.ContentHash, page.CreatedAt.UTC(),
		)
	if _, err := s.exec(ctx, query); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("insert page %s: %w", page.ID, ingest.ErrDuplicate)
		}
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// InsertEmbedding writes the embedding row for a page; an existing row is kept.
func (s *Store) InsertEmbedding(ctx context.Context, pageID string, vector []float32) error {
	vecJSON, err := marshalText(vector, "[]")
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	query := sq.Insert("page_embeddings").
		Options("OR IGNORE").
		Columns("page_id", "embedding").
		Values(pageID, vecJSON)
	if _, err := s.exec(ctx, query); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("insert embedding for %s: %w", pageID, ingest.ErrNotFound)
		}
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

func selectPages() sq.SelectBuilder {
	return sq.Select(pageColumns...).From("pages p").LeftJoin("page_embeddings e ON e.page_id = p.id")
}

// GetPage fetches a page by ID.
func (s *Store) GetPage(ctx context.Context, id string) (ingest.Page, error) {
	row, err := s.queryRow(ctx, selectPages().Where(sq.Eq{"p.id": id}))
	if err != nil {
		return ingest.Page{}, err
	}
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ingest.Page{}, fmt.Errorf("get page %s: %w", id, ingest.ErrNotFound)
	}
	if err != nil {
		return ingest.Page{}, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// FindActivePageByURL returns the oldest non-decayed page with the given URL.
func (s *Store) FindActivePageByURL(ctx context.Context, canonicalURL string) (ingest.Page, error) {
	query := selectPages().
		Where(sq.Eq{"p.url": canonicalURL, "p.is_decayed": false}).
		OrderBy("p.created_at ASC").
		Limit(1)
	row, err := s.queryRow(ctx, query)
	if err != nil {
		return ingest.Page{}, err
	}
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ingest.Page{}, fmt.Errorf("find page %s: %w", canonicalURL, ingest.ErrNotFound)
	}
	if err != nil {
		return ingest.Page{}, fmt.Errorf("find page: %w", err)
	}
	return page, nil
}

// ListActivePages returns every non-decayed page, oldest first.
func (s *Store) ListActivePages(ctx context.Context) ([]ingest.Page, error) {
	rows, err := s.query(ctx, selectPages().Where(sq.Eq{"p.is_decayed": false}).OrderBy("p.created_at ASC"))
	if err != nil {
		return nil, fmt.Errorf("list active pages: %w", err)
	}
	defer rows.Close()
	var pages []ingest.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

// MarkPageDecayed flags a page as decayed, keeping the first decay timestamp.
func (s *Store) MarkPageDecayed(ctx context.Context, id string, at time.Time) error {
	query := sq.Update("pages").
		Set("is_decayed", true).
		Set("decayed_at", sq.Expr("COALESCE(decayed_at, ?)", at.UTC())).
		Where(sq.Eq{"id": id})
	res, err := s.exec(ctx, query)
	if err != nil {
		return fmt.Errorf("mark page decayed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark page %s decayed: %w", id, ingest.ErrNotFound)
	}
	return nil
}

// SaveReconstruction inserts a reconstruction row.
func (s *Store) SaveReconstruction(ctx context.Context, rec ingest.Reconstruction) error {
	query := sq.Insert("reconstructions").
		Columns("id", "page_id", "summary", "model", "created_at").
		Values(rec.ID, rec.PageID, rec.Summary, rec.Model, rec.CreatedAt.UTC())
	if _, err := s.exec(ctx, query); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("save reconstruction for %s: %w", rec.PageID, ingest.ErrNotFound)
		}
		return fmt.Errorf("insert reconstruction: %w", err)
	}
	return nil
}

// InsertPending inserts a pending item.
func (s *Store) InsertPending(ctx context.Context, item ingest.PendingItem) error {
	metadataJSON, err := marshalText(item.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := sq.Insert("pending_items").
		Columns(pendingColumns...).
		Values(
			item.ID, item.URL, item.Source, item.Priority, string(item.Status), metadataJSON,
			item.AddedAt.UTC(), item.LastAttemptedAt, item.Attempts,
		)
	if _, err := s.exec(ctx, query); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("insert pending %s: %w", item.URL, ingest.ErrDuplicate)
		}
		return fmt.Errorf("insert pending: %w", err)
	}
	return nil
}

// GetPending fetches a pending item by ID.
func (s *Store) GetPending(ctx context.Context, id string) (ingest.PendingItem, error) {
	row, err := s.queryRow(ctx, sq.Select(pendingColumns...).From("pending_items").Where(sq.Eq{"id": id}))
	if err != nil {
		return ingest.PendingItem{}, err
	}
	item, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ingest.PendingItem{}, fmt.Errorf("get pending %s: %w", id, ingest.ErrNotFound)
	}
	if err != nil {
		return ingest.PendingItem{}, fmt.Errorf("get pending: %w", err)
	}
	return item, nil
}

// FindOpenPendingByURL returns the pending or processing item for a URL.
func (s *Store) FindOpenPendingByURL(ctx context.Context, canonicalURL string) (ingest.PendingItem, error) {
	query := sq.Select(pendingColumns...).
		From("pending_items").
		Where(sq.Eq{"url": canonicalURL, "status": []string{"pending", "processing"}}).
		Limit(1)
	row, err := s.queryRow(ctx, query)
	if err != nil {
		return ingest.PendingItem{}, err
	}
	item, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ingest.PendingItem{}, fmt.Errorf("find pending %s: %w", canonicalURL, ingest.ErrNotFound)
	}
	if err != nil {
		return ingest.PendingItem{}, fmt.Errorf("find pending: %w", err)
	}
	return item, nil
}

// ListPending returns items with the given status, highest priority first.
func (s *Store) ListPending(ctx context.Context, status ingest.PendingStatus, limit int) ([]ingest.PendingItem, error) {
	query := sq.Select(pendingColumns...).
		From("pending_items").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("priority DESC", "added_at ASC", "id ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	items := make([]ingest.PendingItem, 0)
	for rows.Next() {
		item, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return items, nil
}

// ClaimPending moves a pending item to processing with a conditional update.
func (s *Store) ClaimPending(ctx context.Context, id string, at time.Time) (ingest.PendingItem, error) {
	query := sq.Update("pending_items").
		Set("status", string(ingest.StatusProcessing)).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_attempted_at", at.UTC()).
		Where(sq.Eq{"id": id, "status": string(ingest.StatusPending)})
	res, err := s.exec(ctx, query)
	if err != nil {
		return ingest.PendingItem{}, fmt.Errorf("claim pending: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ingest.PendingItem{}, s.transitionError(ctx, id, ingest.StatusProcessing)
	}
	return s.GetPending(ctx, id)
}

// CompletePending moves a processing item to done or failed.
func (s *Store) CompletePending(
	ctx context.Context,
	id string,
	status ingest.PendingStatus,
	metadata map[string]any,
) error {
	if !ingest.StatusProcessing.CanTransition(status) {
		return fmt.Errorf("complete pending %s to %s: %w", id, status, ingest.ErrInvalidTransition)
	}
	query := sq.Update("pending_items").
		Set("status", string(status)).
		Where(sq.Eq{"id": id, "status": string(ingest.StatusProcessing)})
	if metadata != nil {
		metadataJSON, err := marshalText(metadata, "{}")
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		query = query.Set("metadata", metadataJSON)
	}
	res, err := s.exec(ctx, query)
	if err != nil {
		return fmt.Errorf("complete pending: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return s.transitionError(ctx, id, status)
	}
	return nil
}

// CountPending returns the number of items per status.
func (s *Store) CountPending(ctx context.Context) (map[ingest.PendingStatus]int, error) {
	rows, err := s.query(ctx, sq.Select("status", "count(*)").From("pending_items").GroupBy("status"))
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	defer rows.Close()
	counts := make(map[ingest.PendingStatus]int, 4)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[ingest.PendingStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

func (s *Store) transitionError(ctx context.Context, id string, to ingest.PendingStatus) error {
	current, err := s.GetPending(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("move pending %s from %s to %s: %w", id, current.Status, to, ingest.ErrInvalidTransition)
}

func scanPage(row scanner) (ingest.Page, error) {
	var (
		page       ingest.Page
		fieldsJSON string
		hintsJSON  string
		decayedAt  sql.NullTime
		combined   sql.NullString
	)
	err := row.Scan(
		&page.ID, &page.URL, &page.Title, &page.Fields.MetaDescription, &page.Fields.Headings,
		&page.Fields.IntroParagraphs, &page.Fields.Keywords, &page.Fields.BodyText, &page.Date,
		&page.Author, &page.Source, &page.DecayProbability, &page.IsDecayed, &fieldsJSON,
		&hintsJSON, &page.SnapshotURI, &page.ContentHash, &page.CreatedAt, &decayedAt, &combined,
	)
	if err != nil {
		return ingest.Page{}, err
	}
	page.Fields.Title = page.Title
	if decayedAt.Valid {
		at := decayedAt.Time.UTC()
		page.DecayedAt = &at
	}
	page.CreatedAt = page.CreatedAt.UTC()
	if combined.Valid && combined.String != "" {
		if err := json.Unmarshal([]byte(combined.String), &page.CombinedEmbedding); err != nil {
			return ingest.Page{}, fmt.Errorf("decode embedding: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &page.FieldEmbeddings); err != nil {
		return ingest.Page{}, fmt.Errorf("decode field embeddings: %w", err)
	}
	if err := json.Unmarshal([]byte(hintsJSON), &page.Hints); err != nil {
		return ingest.Page{}, fmt.Errorf("decode hints: %w", err)
	}
	return page, nil
}

func scanPending(row scanner) (ingest.PendingItem, error) {
	var (
		item         ingest.PendingItem
		status       string
		metadataJSON string
		lastAttempt  sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.URL, &item.Source, &item.Priority, &status, &metadataJSON,
		&item.AddedAt, &lastAttempt, &item.Attempts,
	)
	if err != nil {
		return ingest.PendingItem{}, err
	}
	item.Status = ingest.PendingStatus(status)
	item.AddedAt = item.AddedAt.UTC()
	if lastAttempt.Valid {
		at := lastAttempt.Time.UTC()
		item.LastAttemptedAt = &at
	}
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &item.Metadata); err != nil {
			return ingest.PendingItem{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return item, nil
}

func marshalText(v any, empty string) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(out) == "null" {
		return empty, nil
	}
	return string(out), nil
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
