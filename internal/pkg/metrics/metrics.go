package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bravia"

// Outcome labels
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeEmitted   = "emitted"
	OutcomeUnchanged = "unchanged"
	OutcomeDropped   = "dropped"
)

var (
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "API method invocations by service, method and outcome",
		},
		[]string{"service", "method", "outcome"},
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "API method invocation latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"service"},
	)

	irccCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ircc_codes_total",
			Help:      "IRCC codes transmitted by outcome",
		},
		[]string{"outcome"},
	)

	pollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by poller and outcome",
		},
		[]string{"poller", "outcome"},
	)

	discoveryCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_candidates_total",
			Help:      "SSDP responders seen during discovery, by outcome",
		},
		[]string{"outcome"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Admin HTTP requests served",
		},
		[]string{"method", "status"},
	)
)

// ObserveRPC records one API invocation
func ObserveRPC(service, method string, start time.Time, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}

	rpcRequests.WithLabelValues(service, method, outcome).Inc()
	rpcDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// ObserveIRCC records one transmitted IRCC code
func ObserveIRCC(err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}

	irccCodes.WithLabelValues(outcome).Inc()
}

// ObservePoll records the end of a poll cycle
func ObservePoll(poller, outcome string) {
	pollCycles.WithLabelValues(poller, outcome).Inc()
}

// ObserveDiscovery records the fate of one discovery candidate
func ObserveDiscovery(outcome string) {
	discoveryCandidates.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served admin request
func ObserveHTTP(method string, status string) {
	httpRequests.WithLabelValues(method, status).Inc()
}
