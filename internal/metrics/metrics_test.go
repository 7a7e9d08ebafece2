package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsAreRegistered(t *testing.T) {
	assert.NotNil(t, PeersRegistered)
	assert.NotNil(t, PeersActive)
	assert.NotNil(t, HandshakesInitiated)
	assert.NotNil(t, HandshakesCompleted)
	assert.NotNil(t, MessagesPacked)
	assert.NotNil(t, EndpointsActive)
	assert.NotNil(t, SchedulerCycles)
}

func TestCountersIncrement(t *testing.T) {
	PeersRegistered.Inc()
	HandshakesInitiated.WithLabelValues("initiator").Inc()
	MessagesPacked.WithLabelValues("application").Inc()
	EndpointsActive.WithLabelValues("tcp").Set(1)
	SchedulerCycles.Inc()

	assert.NotZero(t, testutil.CollectAndCount(PeersRegistered))
	assert.NotZero(t, testutil.CollectAndCount(HandshakesInitiated))
	assert.NotZero(t, testutil.CollectAndCount(MessagesPacked))
	assert.NotZero(t, testutil.CollectAndCount(EndpointsActive))
	assert.NotZero(t, testutil.CollectAndCount(SchedulerCycles))
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	h := Handler()
	assert.NotNil(t, h)
}
