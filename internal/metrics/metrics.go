// Package metrics holds the prometheus collectors for cart sync traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Recorder groups the collectors. Each Runtime owns one registry so tests can
// build as many as they like without duplicate-registration panics.
type Recorder struct {
	Registry *prometheus.Registry

	remoteRequests   *prometheus.CounterVec
	remoteDuration   *prometheus.HistogramVec
	batchUpdates     *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	coalesced        prometheus.Counter
	corruptLocalData prometheus.Counter
	storeWrites      *prometheus.CounterVec
}

// New creates a Recorder with its collectors registered on a private registry.
func New() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		remoteRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Subsystem: "remote",
				Name:      "requests_total",
				Help:      "Remote cart API calls by operation and result.",
			},
			[]string{"op", "result"},
		),
		remoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cartsync",
				Subsystem: "remote",
				Name:      "request_duration_seconds",
				Help:      "Duration of remote cart API calls.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"op"},
		),
		batchUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Subsystem: "debounce",
				Name:      "batch_updates_total",
				Help:      "Debounced batch updates by result (ok, error, skipped).",
			},
			[]string{"result"},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Fetch-and-reconcile runs by outcome.",
			},
			[]string{"outcome"},
		),
		coalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Subsystem: "debounce",
				Name:      "coalesced_total",
				Help:      "Mutations folded into an already pending batch.",
			},
		),
		corruptLocalData: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Subsystem: "store",
				Name:      "malformed_total",
				Help:      "Persisted carts that failed to decode and were treated as empty.",
			},
		),
		storeWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Subsystem: "store",
				Name:      "writes_total",
				Help:      "Local cart store writes by notify mode.",
			},
			[]string{"notify"},
		),
	}

	r.Registry.MustRegister(
		r.remoteRequests,
		r.remoteDuration,
		r.batchUpdates,
		r.reconciliations,
		r.coalesced,
		r.corruptLocalData,
		r.storeWrites,
	)
	return r
}

// Handler exposes the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})
}

// ObserveRemote records one remote call.
func (r *Recorder) ObserveRemote(op string, start time.Time, err error) {
	if r == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	r.remoteRequests.WithLabelValues(op, result).Inc()
	r.remoteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// BatchUpdate records the outcome of a debounced batch send.
func (r *Recorder) BatchUpdate(result string) {
	if r == nil {
		return
	}
	r.batchUpdates.WithLabelValues(result).Inc()
}

// Reconciled records a fetch-and-reconcile outcome (synced, degraded, error, unauthenticated).
func (r *Recorder) Reconciled(outcome string) {
	if r == nil {
		return
	}
	r.reconciliations.WithLabelValues(outcome).Inc()
}

// Coalesced records a trigger that replaced a pending timer.
func (r *Recorder) Coalesced() {
	if r == nil {
		return
	}
	r.coalesced.Inc()
}

// MalformedLocalData records a corrupt persisted cart.
func (r *Recorder) MalformedLocalData() {
	if r == nil {
		return
	}
	r.corruptLocalData.Inc()
}

// StoreWrite records a Local Cart Store write.
func (r *Recorder) StoreWrite(notify bool) {
	if r == nil {
		return
	}
	label := "silent"
	if notify {
		label = "broadcast"
	}
	r.storeWrites.WithLabelValues(label).Inc()
}
