package domain

import "time"

// HealthStatus is the aggregated result of a health probe
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthError    HealthStatus = "error"
	HealthCritical HealthStatus = "critical"
)

var healthRank = map[HealthStatus]int{
	HealthHealthy:  0,
	HealthWarning:  1,
	HealthError:    2,
	HealthCritical: 3,
}

// Worse returns the more severe of two statuses
func (h HealthStatus) Worse(other HealthStatus) HealthStatus {
	if healthRank[other] > healthRank[h] {
		return other
	}
	return h
}

// Healthy reports whether no check degraded
func (h HealthStatus) Healthy() bool {
	return h == HealthHealthy
}

// MetricsSnapshot is the input of alert rule evaluation
type MetricsSnapshot struct {
	TakenAt         time.Time
	Health          HealthStatus
	ErrorRate       float64
	ResponseTimesMs map[string]float64
	QueueDepth      int
	OrderCounts     map[string]int
}

// AvgResponseTime averages the probed response times, optionally for one marketplace
func (s MetricsSnapshot) AvgResponseTime(marketplace string) float64 {
	if marketplace != "" {
		return s.ResponseTimesMs[marketplace]
	}
	if len(s.ResponseTimesMs) == 0 {
		return 0
	}
	var total float64
	for _, v := range s.ResponseTimesMs {
		total += v
	}
	return total / float64(len(s.ResponseTimesMs))
}

// OrderVolume returns the recent order count for a marketplace, or all marketplaces when empty
func (s MetricsSnapshot) OrderVolume(marketplace string) int {
	if marketplace != "" {
		return s.OrderCounts[marketplace]
	}
	total := 0
	for _, n := range s.OrderCounts {
		total += n
	}
	return total
}
