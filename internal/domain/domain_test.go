package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperator_Compare(t *testing.T) {
	tests := []struct {
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{OpGreater, 5, 3, true},
		{OpGreater, 3, 3, false},
		{OpLess, 2, 3, true},
		{OpEqual, 3, 3, true},
		{OpNotEqual, 3, 3, false},
		{OpNotEqual, 1, 3, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v %s %v", tt.value, tt.op, tt.threshold), func(t *testing.T) {
			got, err := tt.op.Compare(tt.value, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Operator("between").Compare(1, 2)
	assert.Error(t, err)
}

func TestFrequency_Next(t *testing.T) {
	base := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		freq Frequency
		want time.Time
	}{
		{FrequencyMinute, base.Add(time.Minute)},
		{FrequencyHourly, base.Add(time.Hour)},
		{FrequencyDaily, time.Date(2024, time.February, 1, 10, 0, 0, 0, time.UTC)},
		{FrequencyWeekly, time.Date(2024, time.February, 7, 10, 0, 0, 0, time.UTC)},
		{FrequencyMonthly, time.Date(2024, time.February, 29, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			got, err := tt.freq.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Frequency("yearly").Next(base)
	assert.Error(t, err)
}

func TestFrequency_MonthlyClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"leap february", time.Date(2024, time.January, 31, 6, 30, 0, 0, time.UTC), time.Date(2024, time.February, 29, 6, 30, 0, 0, time.UTC)},
		{"common february", time.Date(2025, time.January, 30, 6, 30, 0, 0, time.UTC), time.Date(2025, time.February, 28, 6, 30, 0, 0, time.UTC)},
		{"thirty day month", time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC), time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC)},
		{"year rollover", time.Date(2025, time.December, 31, 23, 0, 0, 0, time.UTC), time.Date(2026, time.January, 31, 23, 0, 0, 0, time.UTC)},
		{"mid month unchanged", time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC), time.Date(2025, time.July, 15, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FrequencyMonthly.Next(tt.from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTaskParams(t *testing.T) {
	task := &ScheduledTask{Parameters: json.RawMessage(`{"batch_size":25,"limit":"7","batch":true,"mode":"full"}`)}
	p := task.Params()

	assert.Equal(t, 25, p.Int("batch_size", 1))
	assert.Equal(t, 7, p.Int("limit", 1))
	assert.Equal(t, 1, p.Int("missing", 1))
	assert.True(t, p.Bool("batch", false))
	assert.Equal(t, "full", p.String("mode", "delta"))
	assert.Equal(t, "delta", p.String("missing", "delta"))

	broken := &ScheduledTask{Parameters: json.RawMessage(`not json`)}
	assert.Empty(t, broken.Params())
}

func TestHealthStatus_Worse(t *testing.T) {
	assert.Equal(t, HealthWarning, HealthHealthy.Worse(HealthWarning))
	assert.Equal(t, HealthCritical, HealthCritical.Worse(HealthError))
	assert.True(t, HealthHealthy.Healthy())
	assert.False(t, HealthWarning.Healthy())
}

func TestQueueStats(t *testing.T) {
	assert.Zero(t, QueueStats{}.ErrorRate())
	assert.Equal(t, 25.0, QueueStats{RecentTotal: 8, RecentFailed: 2}.ErrorRate())
	assert.Equal(t, 5, QueueStats{Pending: 3, Processing: 2, Failed: 9}.Depth())
}

func TestRetryableError(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("push stock: %w", NewRetryableError(cause))

	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRetryable(cause))
}

func TestPayloadCodec(t *testing.T) {
	raw, err := EncodePayload(JobTypeSendAlert, SendAlertPayload{Message: "m", Severity: SeverityHigh})
	require.NoError(t, err)

	p, err := DecodePayload(JobTypeSendAlert, raw)
	require.NoError(t, err)
	alert, ok := p.(*SendAlertPayload)
	require.True(t, ok)
	assert.Equal(t, SeverityHigh, alert.Severity)

	t.Run("type mismatch", func(t *testing.T) {
		_, err := EncodePayload(JobTypePriceUpdate, SendAlertPayload{Message: "m", Severity: SeverityHigh})
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("invalid severity", func(t *testing.T) {
		_, err := EncodePayload(JobTypeSendAlert, SendAlertPayload{Message: "m", Severity: "urgent"})
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodePayload(JobType("reindex"), nil)
		assert.ErrorIs(t, err, ErrInvalidPayload)
		assert.False(t, KnownJobType("reindex"))
	})
}

func TestAlertRule_InCooldown(t *testing.T) {
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	fired := now.Add(-3 * time.Minute)
	mkt := "n11"

	rule := &AlertRule{}
	assert.False(t, rule.InCooldown(now, 5*time.Minute))
	assert.Empty(t, rule.MarketplaceName())

	rule.LastTriggered = &fired
	rule.Marketplace = &mkt
	assert.True(t, rule.InCooldown(now, 5*time.Minute))
	assert.False(t, rule.InCooldown(now, 2*time.Minute))
	assert.Equal(t, "n11", rule.MarketplaceName())
}
