package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// LedgerDeltas counts applied deltas; direction is deduct or restore.
	LedgerDeltas = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_deltas_applied_total",
		Help: "Inventory deltas applied to the stock ledger.",
	}, []string{"direction"})

	Intents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intents_total",
		Help: "Order intent executions by kind and outcome.",
	}, []string{"kind", "outcome"})

	CourierRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_requests_total",
		Help: "Courier gateway calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})
)

var registerOnce sync.Once

// Register adds every collector to reg once per process. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(HTTPRequests, HTTPDuration, LedgerDeltas, Intents, CourierRequests)
	})
}

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
