package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveForward_NormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(forwardTotal.WithLabelValues(OutcomeSuccess))
	ObserveForward(-time.Second, "weird")
	assert.Equal(t, before+1, testutil.ToFloat64(forwardTotal.WithLabelValues(OutcomeSuccess)))

	beforeErr := testutil.ToFloat64(forwardTotal.WithLabelValues(OutcomeError))
	ObserveForward(time.Millisecond, OutcomeError)
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(forwardTotal.WithLabelValues(OutcomeError)))
}

func TestEventsDropped_IgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(droppedEvents)
	EventsDropped(0)
	EventsDropped(3)
	assert.Equal(t, before+3, testutil.ToFloat64(droppedEvents))
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(queueDepth))
}
