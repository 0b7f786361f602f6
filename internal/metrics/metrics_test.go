package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPublishOutcomesCounter(t *testing.T) {
	before := testutil.ToFloat64(PublishOutcomes.WithLabelValues("twitter", "success"))
	PublishOutcomes.WithLabelValues("twitter", "success").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PublishOutcomes.WithLabelValues("twitter", "success")))
}

func TestCircuitBreakerGauge(t *testing.T) {
	CircuitBreakerState.WithLabelValues("linkedin-api").Set(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("linkedin-api")))
}
