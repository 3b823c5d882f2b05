package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "netreachd"

var (
	// SnapshotsEmitted counts connectivity snapshots pushed to subscribers.
	SnapshotsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "netmon",
		Name:      "snapshots_emitted_total",
		Help:      "Connectivity snapshots delivered to subscribers.",
	}, []string{"strategy", "state"})

	// DeregistrationFailures counts unregister calls the OS rejected.
	DeregistrationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "netmon",
		Name:      "deregistration_failures_total",
		Help:      "Receiver or network callback deregistrations that failed.",
	}, []string{"kind"})

	// ActiveSubscriptions tracks live strategy subscriptions.
	ActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "netmon",
		Name:      "active_subscriptions",
		Help:      "Strategy subscriptions currently holding an OS registration.",
	}, []string{"strategy"})

	// Probes counts reachability probes by outcome.
	Probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reachability",
		Name:      "probes_total",
		Help:      "Walled garden probes by result (reachable, unreachable, error).",
	}, []string{"result"})

	// ProbeDuration observes probe round trips.
	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reachability",
		Name:      "probe_duration_seconds",
		Help:      "Duration of walled garden probes.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

const (
	ProbeReachable   = "reachable"
	ProbeUnreachable = "unreachable"
	ProbeError       = "error"
)
