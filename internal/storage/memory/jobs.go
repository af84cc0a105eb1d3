package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// InsertJobs stores new jobs and assigns insertion sequence numbers
func (m *Store) InsertJobs(_ context.Context, jobs []*domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range jobs {
		if _, exists := m.jobs[j.ID]; exists {
			return fmt.Errorf("failed to insert job: duplicate id %s", j.ID)
		}
	}
	for _, j := range jobs {
		m.jobSeq++
		j.Seq = m.jobSeq
		m.jobs[j.ID] = cloneJob(j)
	}
	return nil
}

func (m *Store) eligible() []*domain.Job {
	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusPending && j.Attempts < j.MaxAttempts {
			out = append(out, j)
		}
	}
	sortByDequeueOrder(out)
	return out
}

// ClaimJobs moves up to limit eligible jobs to processing under the store lock
func (m *Store) ClaimJobs(_ context.Context, limit int, now time.Time) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.eligible()
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*domain.Job, 0, len(candidates))
	for _, j := range candidates {
		j.Status = domain.JobStatusProcessing
		j.StartedAt = timePtr(now)
		out = append(out, cloneJob(j))
	}
	return out, nil
}

// ClaimBatch claims the remaining pending members of a batch
func (m *Store) ClaimBatch(_ context.Context, batchID string, now time.Time) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Job
	for _, j := range m.eligible() {
		if j.BatchID == nil || *j.BatchID != batchID {
			continue
		}
		j.Status = domain.JobStatusProcessing
		j.StartedAt = timePtr(now)
		out = append(out, cloneJob(j))
	}
	return out, nil
}

// PeekJobs returns eligible jobs in dequeue order without claiming them
func (m *Store) PeekJobs(_ context.Context, limit int) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := m.eligible()
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*domain.Job, len(candidates))
	for i, j := range candidates {
		out[i] = cloneJob(j)
	}
	return out, nil
}

// ClaimJob moves one pending job to processing
func (m *Store) ClaimJob(_ context.Context, jobID string, now time.Time) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.JobStatusPending || j.Attempts >= j.MaxAttempts {
		return nil, domain.ErrJobAlreadyClaimed
	}
	j.Status = domain.JobStatusProcessing
	j.StartedAt = timePtr(now)
	return cloneJob(j), nil
}

func (m *Store) processingJobs(ids []string) ([]*domain.Job, error) {
	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		j, ok := m.jobs[id]
		if !ok || j.Status != domain.JobStatusProcessing {
			return nil, fmt.Errorf("%w: job %s is not processing", domain.ErrInvalidTransition, id)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CompleteJobs marks processing jobs completed; nothing changes if any job is not processing
func (m *Store) CompleteJobs(_ context.Context, ids []string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.processingJobs(ids)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		j.Status = domain.JobStatusCompleted
		j.CompletedAt = timePtr(now)
		j.ErrorMessage = nil
	}
	return nil
}

// FailJobs marks processing jobs failed and increments their attempts
func (m *Store) FailJobs(_ context.Context, ids []string, message string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.processingJobs(ids)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		msg := message
		j.Status = domain.JobStatusFailed
		j.Attempts++
		j.CompletedAt = timePtr(now)
		j.ErrorMessage = &msg
	}
	return nil
}

// ReleaseJobs puts processing jobs back to pending with their attempts untouched
func (m *Store) ReleaseJobs(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.processingJobs(ids)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		j.Status = domain.JobStatusPending
		j.StartedAt = nil
	}
	return nil
}

// RetryCandidates lists failed jobs with attempts left, oldest failure first
func (m *Store) RetryCandidates(_ context.Context, limit int) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusFailed && j.Attempts < j.MaxAttempts {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CompletedAt == nil || out[b].CompletedAt == nil {
			return out[a].Seq < out[b].Seq
		}
		return out[a].CompletedAt.Before(*out[b].CompletedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RequeueJob moves a failed job with attempts left back to pending
func (m *Store) RequeueJob(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.Status != domain.JobStatusFailed || j.Attempts >= j.MaxAttempts {
		return false, nil
	}
	j.Status = domain.JobStatusPending
	j.StartedAt = nil
	j.CompletedAt = nil
	return true, nil
}

// PurgeJobs deletes completed and permanently failed jobs finished before the cutoff
func (m *Store) PurgeJobs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, j := range m.jobs {
		if j.CompletedAt == nil || !j.CompletedAt.Before(before) {
			continue
		}
		if j.Status == domain.JobStatusCompleted ||
			(j.Status == domain.JobStatusFailed && j.Attempts >= j.MaxAttempts) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

// GetJob returns a copy of the job
func (m *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// ListJobs returns jobs newest first, fetching one extra row past the page size
func (m *Store) ListJobs(_ context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Marketplace != "" && j.Marketplace != filter.Marketplace {
			continue
		}
		if c := filter.Cursor; c != nil {
			if j.CreatedAt.After(c.CreatedAt) || (j.CreatedAt.Equal(c.CreatedAt) && j.ID >= c.ID) {
				continue
			}
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	if len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

// JobStats counts jobs per status
func (m *Store) JobStats(_ context.Context, since, stuckBefore time.Time) (domain.QueueStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s domain.QueueStats
	for _, j := range m.jobs {
		switch j.Status {
		case domain.JobStatusPending:
			s.Pending++
		case domain.JobStatusProcessing:
			s.Processing++
			if j.StartedAt != nil && j.StartedAt.Before(stuckBefore) {
				s.StuckProcessing++
			}
		case domain.JobStatusCompleted:
			s.Completed++
		case domain.JobStatusFailed:
			s.Failed++
			if j.Attempts >= j.MaxAttempts {
				s.PermanentlyFailed++
			}
		}
		if !j.CreatedAt.Before(since) {
			switch j.Status {
			case domain.JobStatusCompleted:
				s.RecentTotal++
			case domain.JobStatusFailed:
				s.RecentTotal++
				s.RecentFailed++
			}
		}
	}
	return s, nil
}
