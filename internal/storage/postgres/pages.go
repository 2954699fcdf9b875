package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

var pageColumns = []string{
	"p.id", "p.url", "p.title", "p.meta_description", "p.headings", "p.intro_paragraphs",
	"p.keywords", "p.body_text", "p.date", "p.author", "p.source", "p.decay_probability",
	"p.is_decayed", "p.field_embeddings", "p.hints", "p.snapshot_uri", "p.content_hash",
	"p.created_at", "p.decayed_at", "e.embedding",
}

func selectPages() sq.SelectBuilder {
	return psql.Select(pageColumns...).
		From("pages p").
		LeftJoin("page_embeddings e ON e.page_id = p.id")
}

// InsertPage inserts a page row. The combined embedding is written separately
// by InsertEmbedding.
func (s *Store) InsertPage(ctx context.Context, page ingest.Page) error {
	fieldsJSON, err := json.Marshal(nonNilEmbeddings(page.FieldEmbeddings))
	if err != nil {
		return fmt.Errorf("marshal field embeddings: %w", err)
	}
	hintsJSON, err := json.Marshal(page.Hints)
	if err != nil {
		return fmt.Errorf("marshal hints: %w", err)
	}
	query := psql.Insert("pages").
		Columns(
			"id", "url", "title", "meta_description", "headings", "intro_paragraphs", "keywords",
			"body_text", "date", "author", "source", "decay_probability", "is_decayed",
			"field_embeddings", "hints", "snapshot_uri", "content_hash", "created_at",
		).
		Values(
			page.ID, page.URL, page.Title, page.Fields.MetaDescription, page.Fields.Headings,
			page.Fields.IntroParagraphs, page.Fields.Keywords, page.Fields.BodyText,
			nullableString(page.Date), nullableString(page.Author), page.Source,
			page.DecayProbability, page.IsDecayed, fieldsJSON, hintsJSON, page.SnapshotURI,
			page.ContentHash, page.CreatedAt,
		)
	if _, err := s.exec(ctx, query); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert page %s: %w", page.ID, ingest.ErrDuplicate)
		}
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// InsertEmbedding writes the embedding row for a page; an existing row is kept.
func (s *Store) InsertEmbedding(ctx context.Context, pageID string, vector []float32) error {
	query := psql.Insert("page_embeddings").
		Columns("page_id", "embedding").
		Values(pageID, pgvector.NewVector(vector)).
		Suffix("ON CONFLICT (page_id) DO NOTHING")
	if _, err := s.exec(ctx, query); err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// GetPage fetches a page by ID.
func (s *Store) GetPage(ctx context.Context, id string) (ingest.Page, error) {
	row, err := s.queryRow(ctx, selectPages().Where(sq.Eq{"p.id": id}))
	if err != nil {
		return ingest.Page{}, err
	}
	page, err := scanPage(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	if errors.Is(err, pgx.ErrNoRows) {
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
	query := psql.Update("pages").
		Set("is_decayed", true).
		Set("decayed_at", sq.Expr("COALESCE(decayed_at, ?)", at)).
		Where(sq.Eq{"id": id})
	tag, err := s.exec(ctx, query)
	if err != nil {
		return fmt.Errorf("mark page decayed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark page %s decayed: %w", id, ingest.ErrNotFound)
	}
	return nil
}

// SaveReconstruction inserts a reconstruction row.
func (s *Store) SaveReconstruction(ctx context.Context, rec ingest.Reconstruction) error {
	query := psql.Insert("reconstructions").
		Columns("id", "page_id", "summary", "model", "created_at").
		Values(rec.ID, rec.PageID, rec.Summary, rec.Model, rec.CreatedAt)
	if _, err := s.exec(ctx, query); err != nil {
		return fmt.Errorf("insert reconstruction: %w", err)
	}
	return nil
}

func scanPage(row pgx.Row) (ingest.Page, error) {
	var (
		page       ingest.Page
		date       *string
		author     *string
		fieldsJSON []byte
		hintsJSON  []byte
		decayedAt  *time.Time
		combined   *pgvector.Vector
	)
	err := row.Scan(
		&page.ID, &page.URL, &page.Title, &page.Fields.MetaDescription, &page.Fields.Headings,
		&page.Fields.IntroParagraphs, &page.Fields.Keywords, &page.Fields.BodyText, &date, &author,
		&page.Source, &page.DecayProbability, &page.IsDecayed, &fieldsJSON, &hintsJSON,
		&page.SnapshotURI, &page.ContentHash, &page.CreatedAt, &decayedAt, &combined,
	)
	if err != nil {
		return ingest.Page{}, err
	}
	page.Fields.Title = page.Title
	if date != nil {
		page.Date = *date
	}
	if author != nil {
		page.Author = *author
	}
	page.DecayedAt = decayedAt
	if combined != nil {
		page.CombinedEmbedding = combined.Slice()
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &page.FieldEmbeddings); err != nil {
			return ingest.Page{}, fmt.Errorf("decode field embeddings: %w", err)
		}
	}
	if len(hintsJSON) > 0 {
		if err := json.Unmarshal(hintsJSON, &page.Hints); err != nil {
			return ingest.Page{}, fmt.Errorf("decode hints: %w", err)
		}
	}
	return page, nil
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nonNilEmbeddings(m map[string][]float32) map[string][]float32 {
	if m == nil {
		return map[string][]float32{}
	}
	return m
}
