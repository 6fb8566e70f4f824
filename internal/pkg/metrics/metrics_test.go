package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRPC(t *testing.T) {
	ObserveRPC("system", "getPowerStatus", time.Now(), nil)
	ObserveRPC("system", "getPowerStatus", time.Now(), errors.New("boom"))
	ObserveRPC("system", "getPowerStatus", time.Now(), nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(rpcRequests.WithLabelValues("system", "getPowerStatus", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rpcRequests.WithLabelValues("system", "getPowerStatus", OutcomeError)))
}

func TestObservePoll(t *testing.T) {
	ObservePoll("lounge", OutcomeDropped)
	ObservePoll("lounge", OutcomeDropped)

	assert.Equal(t, 2.0, testutil.ToFloat64(pollCycles.WithLabelValues("lounge", OutcomeDropped)))
}

func TestObserveIRCCAndHTTP(t *testing.T) {
	ObserveIRCC(nil)
	ObserveHTTP("GET", "200")
	ObserveDiscovery(OutcomeDropped)

	assert.Equal(t, 1.0, testutil.ToFloat64(irccCodes.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(discoveryCandidates.WithLabelValues(OutcomeDropped)))
}
