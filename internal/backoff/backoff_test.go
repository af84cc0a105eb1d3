package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstant_Delay(t *testing.T) {
	c := NewConstant(5 * time.Minute)
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 5*time.Minute, c.Delay(attempt))
	}
}

func TestExponential_Delay(t *testing.T) {
	e := NewExponential(5*time.Second, 300*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 5 * time.Second},
		{attempt: 1, want: 5 * time.Second},
		{attempt: 2, want: 10 * time.Second},
		{attempt: 3, want: 20 * time.Second},
		{attempt: 6, want: 160 * time.Second},
		{attempt: 7, want: 300 * time.Second},
		{attempt: 64, want: 300 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNew(t *testing.T) {
	s, err := New("", time.Minute, 0)
	require.NoError(t, err)
	assert.IsType(t, &Constant{}, s)

	s, err = New(KindExponential, time.Second, time.Minute)
	require.NoError(t, err)
	assert.IsType(t, &Exponential{}, s)

	_, err = New("fibonacci", time.Second, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backoff strategy")
}
