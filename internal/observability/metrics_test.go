package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLag(t *testing.T) {
	m := NewMetrics()

	m.RecordLag(250 * time.Millisecond)
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.EventLoopLagSeconds), 1e-9)

	// Clock skew can make the overshoot negative; the gauge never goes
	// below zero.
	m.RecordLag(-time.Second)
	assert.Zero(t, testutil.ToFloat64(m.EventLoopLagSeconds))
}

func TestStartLagSamplerPublishes(t *testing.T) {
	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartLagSampler(ctx, time.Millisecond)

	// Timers never fire early, so every sample is strictly positive.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.EventLoopLagSeconds) > 0
	}, 2*time.Second, 5*time.Millisecond)
}
