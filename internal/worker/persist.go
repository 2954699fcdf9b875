package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

const defaultSource = "discovery"

// persist scores the document, builds hints, archives the raw body, and
// stores the page followed by its embedding row. The two inserts are not
// atomic: when an earlier attempt stored the page but not the embedding,
// the existing page is reused and the embedding row is attached to it.
func (p *Processor) persist(
	ctx context.Context,
	item ingest.PendingItem,
	doc ingest.Document,
	emb ingest.EmbeddingResult,
) (ingest.Page, error) {
	canonical := ingest.Canonicalize(item.URL)

	existing, err := p.deps.Pages.FindActivePageByURL(ctx, canonical)
	switch {
	case err == nil:
		if err := p.deps.Pages.InsertEmbedding(ctx, existing.ID, emb.Combined); err != nil {
			return ingest.Page{}, fmt.Errorf("attach embedding to page %s: %w", existing.ID, err)
		}
		return existing, nil
	case !errors.Is(err, ingest.ErrNotFound):
		return ingest.Page{}, fmt.Errorf("lookup page %s: %w", canonical, err)
	}

	score := p.deps.Scorer.Score(ctx, canonical, doc.Truncated)

	hash, uri, err := p.archive(ctx, canonical, doc)
	if err != nil {
		return ingest.Page{}, err
	}

	id, err := p.deps.IDs.NewID()
	if err != nil {
		return ingest.Page{}, fmt.Errorf("new page id: %w", err)
	}

	source := item.Source
	if source == "" {
		source = defaultSource
	}
	title := doc.Fields.Title
	if title == "" {
		title, _ = item.Metadata["title"].(string)
	}

	page := ingest.Page{
		ID:                id,
		URL:               canonical,
		Title:             title,
		Fields:            doc.Fields,
		Date:              doc.Date,
		Author:            doc.Author,
		Source:            source,
		DecayProbability:  score,
		IsDecayed:         false,
		CombinedEmbedding: emb.Combined,
		FieldEmbeddings:   emb.Fields,
		Hints:             BuildHints(doc.Fields),
		SnapshotURI:       uri,
		ContentHash:       hash,
		CreatedAt:         p.deps.Clock.Now().UTC(),
	}
	if err := p.deps.Pages.InsertPage(ctx, page); err != nil {
		return ingest.Page{}, fmt.Errorf("save page %s: %w", canonical, err)
	}
	if err := p.deps.Pages.InsertEmbedding(ctx, page.ID, emb.Combined); err != nil {
		return ingest.Page{}, fmt.Errorf("save embedding for page %s: %w", page.ID, err)
	}
	return page, nil
}

// archive hashes the raw body and, when a blob store is configured, writes
// it under <prefix>/<host>/<sha256>.<ext>.
func (p *Processor) archive(ctx context.Context, canonical string, doc ingest.Document) (string, string, error) {
	if len(doc.Raw) == 0 || p.deps.Hasher == nil {
		return "", "", nil
	}
	hash, err := p.deps.Hasher.Hash(doc.Raw)
	if err != nil {
		return "", "", fmt.Errorf("hash body: %w", err)
	}
	if p.deps.Blobs == nil {
		return hash, "", nil
	}
	detected := mimetype.Detect(doc.Raw)
	contentType := doc.ContentType
	if contentType == "" {
		contentType = detected.String()
	}
	path := snapshotPath(p.cfg.BlobPrefix, ingest.Hostname(canonical), hash, detected.Extension())
	uri, err := p.deps.Blobs.PutObject(ctx, path, contentType, doc.Raw)
	if err != nil {
		return "", "", fmt.Errorf("archive snapshot: %w", err)
	}
	return hash, uri, nil
}

func snapshotPath(prefix, host, hash, ext string) string {
	if host == "" {
		host = "unknown"
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	name := fmt.Sprintf("%s/%s.%s", host, hash, ext)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
