// Package memory is an in-process implementation of the storage methods,
// safe for concurrent use. It backs unit tests and the local dev mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

type productKey struct {
	marketplace string
	productID   string
}

// Store keeps every table in maps guarded by one RWMutex
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*domain.Job
	jobSeq  int64
	tasks   map[int64]*domain.ScheduledTask
	taskSeq int64
	execs   []*domain.TaskExecution
	execSeq int64
	rules   map[int64]*domain.AlertRule
	ruleSeq int64
	events  []*domain.AlertEvent

	products map[productKey]*domain.ProductSyncState
	orders   map[productKey]domain.Order
	logs     []domain.LogEntry
	webhooks []domain.WebhookLog
}

// New returns an empty Store
func New() *Store {
	return &Store{
		jobs:     make(map[string]*domain.Job),
		tasks:    make(map[int64]*domain.ScheduledTask),
		rules:    make(map[int64]*domain.AlertRule),
		products: make(map[productKey]*domain.ProductSyncState),
		orders:   make(map[productKey]domain.Order),
	}
}

// Migrate is a no-op for the memory store
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store
func (m *Store) Ping(_ context.Context) error { return nil }

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.Payload = append([]byte(nil), j.Payload...)
	return &c
}

func cloneTask(t *domain.ScheduledTask) *domain.ScheduledTask {
	c := *t
	c.Parameters = append([]byte(nil), t.Parameters...)
	return &c
}

func cloneRule(r *domain.AlertRule) *domain.AlertRule {
	c := *r
	c.AlertChannels = append([]string(nil), r.AlertChannels...)
	return &c
}

func timePtr(t time.Time) *time.Time { return &t }

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
