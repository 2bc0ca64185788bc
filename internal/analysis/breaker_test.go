package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.OnFailure()
	}
	assert.Equal(t, "closed", b.State())

	require.NoError(t, b.Allow())
	b.OnFailure()
	assert.Equal(t, "open", b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatUnavailable))

	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, core.CodeCircuitOpen, domErr.Code)
	assert.Contains(t, domErr.Details, "retry_after")
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Second)
	now := time.Now()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.OnFailure()
	assert.Equal(t, "open", b.State())

	// Before cooldown: fail fast.
	require.Error(t, b.Allow())

	// After cooldown: exactly one probe allowed.
	now = now.Add(11 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, "half-open", b.State())
	require.Error(t, b.Allow(), "second call during probe must fail fast")

	b.OnSuccess()
	assert.Equal(t, "closed", b.State())
	require.NoError(t, b.Allow())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Second)
	now := time.Now()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.OnFailure()

	now = now.Add(11 * time.Second)
	require.NoError(t, b.Allow())
	b.OnFailure()
	assert.Equal(t, "open", b.State())

	// Cooldown restarts from the failed probe.
	now = now.Add(5 * time.Second)
	require.Error(t, b.Allow())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewCircuitBreaker(3, time.Second)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.OnFailure()
	}
	b.OnSuccess()

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.OnFailure()
	}
	assert.Equal(t, "closed", b.State(), "failure count should reset on success")
}
