package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Martian-dev/mailsync/internal/models"
)

// StartRun records the start of a sync pass
func (s *Store) StartRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.DB.ExecContext(ctx, s.rebind(`
		INSERT INTO sync_runs (id, provider, user_id, status, started_at, watermark_before)
		VALUES (?, ?, ?, ?, ?, ?)
	`), run.ID, run.Provider, run.User, string(run.Status), run.StartedAt.UnixMilli(), nullInt64(run.WatermarkBefore))
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and status of a sync pass
func (s *Store) FinishRun(ctx context.Context, run *models.SyncRun) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	_, err := s.DB.ExecContext(ctx, s.rebind(`
		UPDATE sync_runs
		SET status = ?,
		    finished_at = ?,
		    listed = ?,
		    committed = ?,
		    batches = ?,
		    watermark_after = ?,
		    last_error = ?
		WHERE id = ?
	`), string(run.Status), finished.UnixMilli(), run.Listed, run.Committed, run.Batches,
		nullInt64(run.WatermarkAfter), nullString(run.LastError), run.ID)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// ListRuns returns the most recent sync passes, newest first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.DB.QueryContext(ctx, s.rebind(`
		SELECT id, provider, user_id, status, started_at, finished_at, listed, committed, batches,
		       watermark_before, watermark_after, last_error
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []models.SyncRun{}
	for rows.Next() {
		var (
			run               models.SyncRun
			status            string
			startedAt         int64
			finishedAt        sql.NullInt64
			wmBefore, wmAfter sql.NullInt64
			lastError         sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Provider, &run.User, &status, &startedAt, &finishedAt,
			&run.Listed, &run.Committed, &run.Batches, &wmBefore, &wmAfter, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.Status = models.RunStatus(status)
		run.StartedAt = time.UnixMilli(startedAt)
		if finishedAt.Valid {
			t := time.UnixMilli(finishedAt.Int64)
			run.FinishedAt = &t
		}
		if wmBefore.Valid {
			run.WatermarkBefore = &wmBefore.Int64
		}
		if wmAfter.Valid {
			run.WatermarkAfter = &wmAfter.Int64
		}
		run.LastError = lastError.String
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
