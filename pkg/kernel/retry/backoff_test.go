package retry_test

import (
	"testing"
	"time"

	"github.com/nlesc/mdstudio/pkg/kernel/retry"
	"github.com/stretchr/testify/assert"
)

func TestComputeBackoff_CapsAtMaxMs(t *testing.T) {
	policy := retry.BackoffPolicy{PolicyID: "kernel-reconnect", BaseMs: 200, MaxMs: 2000, MaxJitterMs: 0, MaxAttempts: 10}
	d := retry.ComputeBackoff(retry.BackoffParams{EffectID: "realm-a", AttemptIndex: 20}, policy)
	assert.Equal(t, int64(2000), d.Milliseconds())
}

func TestComputeBackoff_IsDeterministicForSameInputs(t *testing.T) {
	policy := retry.BackoffPolicy{PolicyID: "kernel-reconnect", BaseMs: 100, MaxMs: 10000, MaxJitterMs: 50, MaxAttempts: 10}
	params := retry.BackoffParams{EffectID: "realm-a", AttemptIndex: 3}

	a := retry.ComputeBackoff(params, policy)
	b := retry.ComputeBackoff(params, policy)
	assert.Equal(t, a, b)
}

func TestComputeBackoff_DifferentAttemptsDifferentJitter(t *testing.T) {
	policy := retry.BackoffPolicy{PolicyID: "kernel-reconnect", BaseMs: 1, MaxMs: 10, MaxJitterMs: 1000, MaxAttempts: 10}
	d1 := retry.ComputeDeterministicJitter(retry.BackoffParams{EffectID: "realm-a", AttemptIndex: 1}, policy)
	d2 := retry.ComputeDeterministicJitter(retry.BackoffParams{EffectID: "realm-a", AttemptIndex: 2}, policy)
	assert.NotEqual(t, d1, d2)
}

func TestGenerateRetryPlan_FirstAttemptHasNoDelay(t *testing.T) {
	policy := retry.BackoffPolicy{PolicyID: "kernel-reconnect", BaseMs: 100, MaxMs: 10000, MaxJitterMs: 0, MaxAttempts: 3}
	plan, err := retry.GenerateRetryPlan(retry.BackoffParams{EffectID: "realm-a"}, policy, time.Now())
	assert.NoError(t, err)
	assert.Len(t, plan.Schedule, 3)
	assert.Equal(t, int64(0), plan.Schedule[0].DelayMs)
	assert.Greater(t, plan.Schedule[1].DelayMs, int64(0))
}
