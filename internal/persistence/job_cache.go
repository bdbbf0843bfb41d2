package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/regional-stats-etl/internal/jobs"
)

// JobCache is the SQLite backend of jobs.Store, scoped to one source.
type JobCache struct {
	store  *SQLiteStore
	source string
}

var _ jobs.Store = (*JobCache)(nil)

func (s *SQLiteStore) JobCache(source string) *JobCache {
	return &JobCache{store: s, source: source}
}

func (c *JobCache) Get(ctx context.Context, key jobs.Key) (string, bool, error) {
	var jobID, status string
	err := c.store.db.QueryRowContext(ctx,
		`SELECT job_id, status FROM job_cache WHERE source = ? AND storage_key = ?`,
		c.source, key.String(),
	).Scan(&jobID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query job cache: %w", err)
	}
	if jobs.Status(status) == jobs.StatusLoaded || jobID == "" {
		return "", false, nil
	}
	return jobID, true, nil
}

func (c *JobCache) Save(ctx context.Context, key jobs.Key, jobID string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("job id is required")
	}
	return c.put(ctx, jobs.Entry{
		JobID:     jobID,
		TableID:   key.TableID,
		Period:    key.Period,
		CreatedAt: jobs.NewTimestamp(c.store.now()),
		Status:    jobs.StatusCreated,
	})
}

func (c *JobCache) UpdateStatus(ctx context.Context, key jobs.Key, status jobs.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", jobs.ErrUnknownStatus, status)
	}
	return c.store.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM job_cache WHERE source = ? AND storage_key = ?`,
			c.source, key.String(),
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("query job cache: %w", err)
		}
		if !jobs.Status(current).CanTransition(status) {
			return fmt.Errorf("%w: %s %s -> %s", jobs.ErrInvalidTransition, key, current, status)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE job_cache SET status = ?, status_updated_at = ? WHERE source = ? AND storage_key = ?`,
			string(status), formatTime(c.store.now()), c.source, key.String(),
		)
		if err != nil {
			return fmt.Errorf("update job cache: %w", err)
		}
		return nil
	})
}

func (c *JobCache) Clear(ctx context.Context, key jobs.Key) (bool, error) {
	res, err := c.store.db.ExecContext(ctx,
		`DELETE FROM job_cache WHERE source = ? AND storage_key = ?`,
		c.source, key.String(),
	)
	if err != nil {
		return false, fmt.Errorf("delete job cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *JobCache) AddExisting(ctx context.Context, key jobs.Key, jobID string, status jobs.Status) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("job id is required")
	}
	if status == "" {
		status = jobs.StatusReady
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", jobs.ErrUnknownStatus, status)
	}
	return c.put(ctx, jobs.Entry{
		JobID:     jobID,
		TableID:   key.TableID,
		Period:    key.Period,
		CreatedAt: jobs.NewTimestamp(c.store.now()),
		Status:    status,
		Note:      jobs.ManualNote,
	})
}

func (c *JobCache) Put(ctx context.Context, entry jobs.Entry) error {
	if err := entry.Key().Validate(); err != nil {
		return err
	}
	return c.put(ctx, entry)
}

func (c *JobCache) put(ctx context.Context, entry jobs.Entry) error {
	var statusUpdatedAt sql.NullString
	if entry.StatusUpdatedAt != nil && !entry.StatusUpdatedAt.IsZero() {
		statusUpdatedAt = sql.NullString{String: formatTime(entry.StatusUpdatedAt.Time), Valid: true}
	}
	createdAt := entry.CreatedAt.Time
	if createdAt.IsZero() {
		createdAt = c.store.now()
	}
	_, err := c.store.db.ExecContext(ctx,
		`INSERT INTO job_cache (
			source, storage_key, job_id, table_id, period, status, created_at, status_updated_at, note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, storage_key) DO UPDATE SET
			job_id=excluded.job_id,
			table_id=excluded.table_id,
			period=excluded.period,
			status=excluded.status,
			created_at=excluded.created_at,
			status_updated_at=excluded.status_updated_at,
			note=excluded.note`,
		c.source,
		entry.Key().String(),
		entry.JobID,
		entry.TableID,
		entry.Period,
		string(entry.Status),
		formatTime(createdAt),
		statusUpdatedAt,
		entry.Note,
	)
	if err != nil {
		return fmt.Errorf("upsert job cache entry: %w", err)
	}
	return nil
}

func (c *JobCache) List(ctx context.Context) (map[string]jobs.Entry, error) {
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT storage_key, job_id, table_id, period, status, created_at, status_updated_at, note
		 FROM job_cache
		 WHERE source = ?
		 ORDER BY storage_key ASC`,
		c.source,
	)
	if err != nil {
		return nil, fmt.Errorf("list job cache: %w", err)
	}
	defer rows.Close()

	ret := make(map[string]jobs.Entry)
	for rows.Next() {
		var (
			storageKey, status, createdAt string
			statusUpdatedAt               sql.NullString
			entry                         jobs.Entry
		)
		if err := rows.Scan(&storageKey, &entry.JobID, &entry.TableID, &entry.Period, &status, &createdAt, &statusUpdatedAt, &entry.Note); err != nil {
			return nil, err
		}
		entry.Status = jobs.Status(status)
		created, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = jobs.NewTimestamp(created)
		if statusUpdatedAt.Valid {
			updated, err := parseTime(statusUpdatedAt.String)
			if err != nil {
				return nil, err
			}
			ts := jobs.NewTimestamp(updated)
			entry.StatusUpdatedAt = &ts
		}
		ret[storageKey] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
