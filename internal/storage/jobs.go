package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `id, seq, type, marketplace, payload, priority, status, attempts,
	max_attempts, batch_id, created_at, started_at, completed_at, error_message`

// InsertJobs stores new jobs in one transaction and fills in their sequence numbers
func (s *Storage) InsertJobs(ctx context.Context, jobs []*domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, type, marketplace, payload, priority, status,
			attempts, max_attempts, batch_id, created_at
		) VALUES (
			$1, $2, $3, $4::jsonb, $5, $6,
			$7, $8, $9, $10
		)
		RETURNING seq
	`

	return s.client.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, job := range jobs {
			err := tx.QueryRowxContext(ctx, query,
				job.ID,
				job.Type,
				job.Marketplace,
				string(job.Payload),
				job.Priority,
				job.Status,
				job.Attempts,
				job.MaxAttempts,
				job.BatchID,
				job.CreatedAt,
			).Scan(&job.Seq)
			if err != nil {
				return fmt.Errorf("failed to insert job: %w", err)
			}
		}
		return nil
	})
}

// ClaimJobs atomically moves up to limit eligible pending jobs to processing.
// Concurrent callers never receive the same row.
func (s *Storage) ClaimJobs(ctx context.Context, limit int, now time.Time) ([]*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    started_at = $2
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = $3
			  AND attempts < max_attempts
			ORDER BY priority DESC, created_at ASC, seq ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		RETURNING ` + jobColumns

	var jobs []*domain.Job
	err := s.db.SelectContext(ctx, &jobs, query,
		domain.JobStatusProcessing, now, domain.JobStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	sortByDequeueOrder(jobs)
	return jobs, nil
}

// ClaimBatch claims the remaining pending members of a batch
func (s *Storage) ClaimBatch(ctx context.Context, batchID string, now time.Time) ([]*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    started_at = $2
		WHERE batch_id = $3
		  AND status = $4
		  AND attempts < max_attempts
		RETURNING ` + jobColumns

	var jobs []*domain.Job
	err := s.db.SelectContext(ctx, &jobs, query,
		domain.JobStatusProcessing, now, batchID, domain.JobStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}

	sortByDequeueOrder(jobs)
	return jobs, nil
}

// PeekJobs returns the next eligible jobs in dequeue order without claiming them
func (s *Storage) PeekJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND attempts < max_attempts
		ORDER BY priority DESC, created_at ASC, seq ASC
		LIMIT $2
	`

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to peek jobs: %w", err)
	}
	return jobs, nil
}

// ClaimJob moves a single pending job to processing
func (s *Storage) ClaimJob(ctx context.Context, jobID string, now time.Time) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    started_at = $2
		WHERE id = $3
		  AND status = $4
		  AND attempts < max_attempts
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query,
		domain.JobStatusProcessing, now, jobID, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			s.logger.Warn("Failed to claim job - not pending",
				slog.String("job_id", jobID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return &job, nil
}

// CompleteJobs marks processing jobs completed
func (s *Storage) CompleteJobs(ctx context.Context, ids []string, now time.Time) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    completed_at = $2,
		    error_message = NULL
		WHERE id = ANY($3::uuid[])
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCompleted, now, pq.Array(ids), domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete jobs: %w", err)
	}
	return checkAffected(result, len(ids))
}

// FailJobs marks processing jobs failed and increments their attempt counters
func (s *Storage) FailJobs(ctx context.Context, ids []string, message string, now time.Time) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    attempts = attempts + 1,
		    completed_at = $2,
		    error_message = $3
		WHERE id = ANY($4::uuid[])
		  AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed, now, message, pq.Array(ids), domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail jobs: %w", err)
	}
	return checkAffected(result, len(ids))
}

// ReleaseJobs returns claimed jobs to pending without spending an attempt
func (s *Storage) ReleaseJobs(ctx context.Context, ids []string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    started_at = NULL
		WHERE id = ANY($2::uuid[])
		  AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusPending, pq.Array(ids), domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to release jobs: %w", err)
	}
	return checkAffected(result, len(ids))
}

// RetryCandidates lists failed jobs that still have attempts left, oldest failure first
func (s *Storage) RetryCandidates(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND attempts < max_attempts
		ORDER BY completed_at ASC
		LIMIT $2
	`

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusFailed, limit); err != nil {
		return nil, fmt.Errorf("failed to list retry candidates: %w", err)
	}
	return jobs, nil
}

// RequeueJob moves a failed job back to pending. It reports false when the job changed meanwhile.
func (s *Storage) RequeueJob(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    started_at = NULL,
		    completed_at = NULL
		WHERE id = $2
		  AND status = $3
		  AND attempts < max_attempts
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, jobID, domain.JobStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// PurgeJobs deletes completed and permanently failed jobs finished before the cutoff
func (s *Storage) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE completed_at < $1
		  AND (status = $2 OR (status = $3 AND attempts >= max_attempts))
	`

	result, err := s.db.ExecContext(ctx, query, before, domain.JobStatusCompleted, domain.JobStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return result.RowsAffected()
}

// GetJob retrieves a job by its ID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns jobs newest first using keyset pagination.
// It fetches one extra row so callers can tell whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Marketplace != "" {
		query += fmt.Sprintf(" AND marketplace = $%d", argIdx)
		args = append(args, filter.Marketplace)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// JobStats counts jobs per status. Recent counters cover jobs created after since;
// processing jobs started before stuckBefore count as stuck.
func (s *Storage) JobStats(ctx context.Context, since, stuckBefore time.Time) (domain.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'processing' AND started_at < $2) AS stuck_processing,
			COUNT(*) FILTER (WHERE created_at >= $1 AND status IN ('completed', 'failed')) AS recent_total,
			COUNT(*) FILTER (WHERE created_at >= $1 AND status = 'failed') AS recent_failed,
			COUNT(*) FILTER (WHERE status = 'failed' AND attempts >= max_attempts) AS permanently_failed
		FROM jobs
	`

	var stats domain.QueueStats
	if err := s.db.GetContext(ctx, &stats, query, since, stuckBefore); err != nil {
		return domain.QueueStats{}, fmt.Errorf("failed to get job stats: %w", err)
	}
	return stats, nil
}

func checkAffected(result sql.Result, want int) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if int(rows) != want {
		return fmt.Errorf("%w: updated %d of %d jobs", domain.ErrInvalidTransition, rows, want)
	}
	return nil
}

func sortByDequeueOrder(jobs []*domain.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
}
