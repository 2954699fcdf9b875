package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

var pendingColumns = []string{
	"id", "url", "source", "priority", "status", "metadata", "added_at", "last_attempted_at", "attempts",
}

var openStatuses = []string{string(ingest.StatusPending), string(ingest.StatusProcessing)}

// InsertPending inserts a pending item. The partial unique index on open
// items turns a concurrent duplicate into ErrDuplicate.
func (s *Store) InsertPending(ctx context.Context, item ingest.PendingItem) error {
	metadataJSON, err := encodeMetadata(item.Metadata)
	if err != nil {
		return err
	}
	query := psql.Insert("pending_items").
		Columns(pendingColumns...).
		Values(
			item.ID, item.URL, item.Source, item.Priority, string(item.Status), metadataJSON,
			item.AddedAt, item.LastAttemptedAt, item.Attempts,
		)
	if _, err := s.exec(ctx, query); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert pending %s: %w", item.URL, ingest.ErrDuplicate)
		}
		return fmt.Errorf("insert pending: %w", err)
	}
	return nil
}

// GetPending fetches a pending item by ID.
func (s *Store) GetPending(ctx context.Context, id string) (ingest.PendingItem, error) {
	row, err := s.queryRow(ctx, psql.Select(pendingColumns...).From("pending_items").Where(sq.Eq{"id": id}))
	if err != nil {
		return ingest.PendingItem{}, err
	}
	item, err := scanPending(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.PendingItem{}, fmt.Errorf("get pending %s: %w", id, ingest.ErrNotFound)
	}
	if err != nil {
		return ingest.PendingItem{}, fmt.Errorf("get pending: %w", err)
	}
	return item, nil
}

// FindOpenPendingByURL returns the pending or processing item for a URL.
func (s *Store) FindOpenPendingByURL(ctx context.Context, canonicalURL string) (ingest.PendingItem, error) {
	query := psql.Select(pendingColumns...).
		From("pending_items").
		Where(sq.Eq{"url": canonicalURL, "status": openStatuses}).
		Limit(1)
	row, err := s.queryRow(ctx, query)
	if err != nil {
		return ingest.PendingItem{}, err
	}
	item, err := scanPending(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.PendingItem{}, fmt.Errorf("find pending %s: %w", canonicalURL, ingest.ErrNotFound)
	}
	if err != nil {
		return ingest.PendingItem{}, fmt.Errorf("find pending: %w", err)
	}
	return item, nil
}

// ListPending returns items with the given status, highest priority first.
func (s *Store) ListPending(ctx context.Context, status ingest.PendingStatus, limit int) ([]ingest.PendingItem, error) {
	query := psql.Select(pendingColumns...).
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

// ClaimPending moves a pending item to processing with a single conditional
// update, so two concurrent claims cannot both succeed.
func (s *Store) ClaimPending(ctx context.Context, id string, at time.Time) (ingest.PendingItem, error) {
	query := psql.Update("pending_items").
		Set("status", string(ingest.StatusProcessing)).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_attempted_at", at).
		Where(sq.Eq{"id": id, "status": string(ingest.StatusPending)}).
		Suffix("RETURNING " + strings.Join(pendingColumns, ", "))
	row, err := s.queryRow(ctx, query)
	if err != nil {
		return ingest.PendingItem{}, err
	}
	item, err := scanPending(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.PendingItem{}, s.transitionError(ctx, id, ingest.StatusProcessing)
	}
	if err != nil {
		return ingest.PendingItem{}, fmt.Errorf("claim pending: %w", err)
	}
	return item, nil
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
	query := psql.Update("pending_items").
		Set("status", string(status)).
		Where(sq.Eq{"id": id, "status": string(ingest.StatusProcessing)})
	if metadata != nil {
		metadataJSON, err := encodeMetadata(metadata)
		if err != nil {
			return err
		}
		query = query.Set("metadata", metadataJSON)
	}
	tag, err := s.exec(ctx, query)
	if err != nil {
		return fmt.Errorf("complete pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, status)
	}
	return nil
}

// CountPending returns the number of items per status.
func (s *Store) CountPending(ctx context.Context) (map[ingest.PendingStatus]int, error) {
	rows, err := s.query(ctx, psql.Select("status", "count(*)").From("pending_items").GroupBy("status"))
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

// transitionError distinguishes a missing item from one in the wrong state
// after a conditional update matched nothing.
func (s *Store) transitionError(ctx context.Context, id string, to ingest.PendingStatus) error {
	current, err := s.GetPending(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("move pending %s from %s to %s: %w", id, current.Status, to, ingest.ErrInvalidTransition)
}

func scanPending(row pgx.Row) (ingest.PendingItem, error) {
	var (
		item         ingest.PendingItem
		status       string
		metadataJSON []byte
	)
	err := row.Scan(
		&item.ID, &item.URL, &item.Source, &item.Priority, &status, &metadataJSON,
		&item.AddedAt, &item.LastAttemptedAt, &item.Attempts,
	)
	if err != nil {
		return ingest.PendingItem{}, err
	}
	item.Status = ingest.PendingStatus(status)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &item.Metadata); err != nil {
			return ingest.PendingItem{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return item, nil
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	out, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return out, nil
}
