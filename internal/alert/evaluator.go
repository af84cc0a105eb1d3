package alert

import "github.com/cuongbtq/marketsync/internal/domain"

// Evaluator computes the current value a rule is compared against
type Evaluator interface {
	Value(rule *domain.AlertRule, s domain.MetricsSnapshot) float64
}

// EvaluatorFunc adapts a function to Evaluator
type EvaluatorFunc func(rule *domain.AlertRule, s domain.MetricsSnapshot) float64

func (f EvaluatorFunc) Value(rule *domain.AlertRule, s domain.MetricsSnapshot) float64 {
	return f(rule, s)
}

// DefaultEvaluators returns one evaluator per built-in rule type
func DefaultEvaluators() map[domain.RuleType]Evaluator {
	return map[domain.RuleType]Evaluator{
		// 1 when healthy, 0 otherwise
		domain.RuleHealthCheck: EvaluatorFunc(func(_ *domain.AlertRule, s domain.MetricsSnapshot) float64 {
			if s.Health.Healthy() {
				return 1
			}
			return 0
		}),
		domain.RuleErrorRate: EvaluatorFunc(func(_ *domain.AlertRule, s domain.MetricsSnapshot) float64 {
			return s.ErrorRate
		}),
		domain.RuleResponseTime: EvaluatorFunc(func(r *domain.AlertRule, s domain.MetricsSnapshot) float64 {
			return s.AvgResponseTime(r.MarketplaceName())
		}),
		domain.RuleQueueSize: EvaluatorFunc(func(_ *domain.AlertRule, s domain.MetricsSnapshot) float64 {
			return float64(s.QueueDepth)
		}),
		domain.RuleOrderVolume: EvaluatorFunc(func(r *domain.AlertRule, s domain.MetricsSnapshot) float64 {
			return float64(s.OrderVolume(r.MarketplaceName()))
		}),
	}
}
