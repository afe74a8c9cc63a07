package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gridsync/internal/domain"
)

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

const upsertSQL = `
	INSERT INTO grid_records (external_id, record_date, status, raw_payload, fetched_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (external_id, record_date, status) DO UPDATE SET
	  raw_payload = EXCLUDED.raw_payload,
	  fetched_at  = EXCLUDED.fetched_at
	RETURNING (xmax = 0)`

// UpsertBatch writes every record in one transaction, keyed on
// (external_id, record_date, status). Existing rows get their payload
// replaced and fetched_at refreshed; key fields are never touched. Any
// failure rolls the whole batch back, so a run never leaves partial state.
func (s *PostgresStore) UpsertBatch(ctx context.Context, records []domain.GridRecord, fetchedAt time.Time) (domain.UpsertSummary, error) {
	var summary domain.UpsertSummary
	if len(records) == 0 {
		return summary, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return summary, &domain.PersistenceError{Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rec := range records {
		payload, err := json.Marshal(rec.RawFields)
		if err != nil {
			return summary, &domain.PersistenceError{Err: fmt.Errorf("encode payload for %s: %w", rec.ExternalID, err)}
		}
		batch.Queue(upsertSQL, rec.ExternalID, domain.Midnight(rec.RecordDate), rec.Status, payload, fetchedAt.UTC())
	}

	results := tx.SendBatch(ctx, batch)
	for range records {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			results.Close()
			return domain.UpsertSummary{}, &domain.PersistenceError{Err: err}
		}
		if inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
	}
	if err := results.Close(); err != nil {
		return domain.UpsertSummary{}, &domain.PersistenceError{Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.UpsertSummary{}, &domain.PersistenceError{Err: fmt.Errorf("commit batch: %w", err)}
	}
	return summary, nil
}

// FetchFirst returns the most recent stored row for an external id, or nil
// when none exists. Used for smoke verification after a run.
func (s *PostgresStore) FetchFirst(ctx context.Context, externalID string) (*domain.StatusRow, error) {
	var row domain.StatusRow
	err := s.pool.QueryRow(ctx,
		`SELECT external_id, record_date, status, raw_payload, fetched_at
		 FROM grid_records
		 WHERE external_id = $1
		 ORDER BY record_date DESC, fetched_at DESC
		 LIMIT 1`,
		externalID,
	).Scan(&row.ExternalID, &row.RecordDate, &row.Status, &row.RawPayload, &row.FetchedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch first row for %s: %w", externalID, err)
	}
	return &row, nil
}

// ListRecent returns the stored rows whose record_date falls inside the
// window, both ends inclusive.
func (s *PostgresStore) ListRecent(ctx context.Context, from, to time.Time) ([]domain.StatusRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT external_id, record_date, status, fetched_at
		 FROM grid_records
		 WHERE record_date BETWEEN $1 AND $2
		 ORDER BY record_date, external_id`,
		domain.Midnight(from), domain.Midnight(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list rows in window: %w", err)
	}
	defer rows.Close()

	var out []domain.StatusRow
	for rows.Next() {
		var row domain.StatusRow
		if err := rows.Scan(&row.ExternalID, &row.RecordDate, &row.Status, &row.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rows in window: %w", err)
	}
	return out, nil
}

// UpdateStatus rewrites the status of one stored row and refreshes its
// fetched_at. The status is part of the business key, so the row is
// addressed by its full old triple.
func (s *PostgresStore) UpdateStatus(ctx context.Context, externalID string, recordDate time.Time, oldStatus, newStatus string, fetchedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE grid_records
		 SET status = $4, fetched_at = $5
		 WHERE external_id = $1 AND record_date = $2 AND status = $3`,
		externalID, domain.Midnight(recordDate), oldStatus, newStatus, fetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", externalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update status: no stored row for (%s, %s, %s)",
			externalID, recordDate.Format("2006-01-02"), oldStatus)
	}
	return nil
}
