package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/MimeLyc/regional-stats-etl/internal/ffcsv"
)

// UpsertObservations writes obs and the batch record in one transaction.
// Observations are keyed by (table, time, dimension key, variable), so loading
// the same period twice updates rows instead of duplicating them.
// The returned batch carries the assigned id, row count and finish time.
func (s *SQLiteStore) UpsertObservations(ctx context.Context, batch LoadBatch, obs []ffcsv.Observation) (LoadBatch, error) {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.StartedAt.IsZero() {
		batch.StartedAt = s.now()
	}
	batch.RowCount = len(obs)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		updatedAt := formatTime(s.now())
		for i, o := range obs {
			keysJSON, err := json.Marshal(o.Keys)
			if err != nil {
				return fmt.Errorf("encode keys of row %d: %w", i, err)
			}
			var value sql.NullFloat64
			if o.Value != nil {
				value = sql.NullFloat64{Float64: *o.Value, Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO observations (
					table_id, time, dimension_key, variable, keys_json, value, unit, quality, batch_id, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(table_id, time, dimension_key, variable) DO UPDATE SET
					keys_json=excluded.keys_json,
					value=excluded.value,
					unit=excluded.unit,
					quality=excluded.quality,
					batch_id=excluded.batch_id,
					updated_at=excluded.updated_at`,
				o.TableID, o.Time, o.KeyString(), o.Variable, string(keysJSON), value, o.Unit, o.Quality, batch.ID, updatedAt,
			); err != nil {
				return fmt.Errorf("upsert observation %d: %w", i, err)
			}
		}

		batch.FinishedAt = s.now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO load_batches (id, pipeline, source, table_id, period, job_id, row_count, started_at, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			batch.ID, batch.Pipeline, batch.Source, batch.TableID, batch.Period, batch.JobID, batch.RowCount,
			formatTime(batch.StartedAt), formatTime(batch.FinishedAt),
		); err != nil {
			return fmt.Errorf("record load batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return LoadBatch{}, err
	}
	return batch, nil
}

// ListBatches returns the most recent load batches first. limit <= 0 returns all.
func (s *SQLiteStore) ListBatches(ctx context.Context, limit int) ([]LoadBatch, error) {
	query := `SELECT id, pipeline, source, table_id, period, job_id, row_count, started_at, finished_at
		 FROM load_batches
		 ORDER BY finished_at DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list load batches: %w", err)
	}
	defer rows.Close()

	ret := make([]LoadBatch, 0)
	for rows.Next() {
		var (
			item                  LoadBatch
			startedAt, finishedAt string
		)
		if err := rows.Scan(&item.ID, &item.Pipeline, &item.Source, &item.TableID, &item.Period, &item.JobID, &item.RowCount, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		if item.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if item.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// ObservationsFor returns the stored observations of one table, ordered by
// time, dimension key and variable.
func (s *SQLiteStore) ObservationsFor(ctx context.Context, tableID string) ([]ffcsv.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_id, time, keys_json, variable, value, unit, quality
		 FROM observations
		 WHERE table_id = ?
		 ORDER BY time ASC, dimension_key ASC, variable ASC`,
		tableID,
	)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	ret := make([]ffcsv.Observation, 0)
	for rows.Next() {
		var (
			item     ffcsv.Observation
			keysJSON string
			value    sql.NullFloat64
		)
		if err := rows.Scan(&item.TableID, &item.Time, &keysJSON, &item.Variable, &value, &item.Unit, &item.Quality); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keysJSON), &item.Keys); err != nil {
			return nil, fmt.Errorf("decode keys: %w", err)
		}
		if value.Valid {
			v := value.Float64
			item.Value = &v
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
