// Package rvmetrics holds the Prometheus collectors exported by the server.
package rvmetrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "rendezvous"

// Reasons a listing can leave the store, used as the `reason` label on
// ListingsRemoved.
const (
	ReasonDeleted = "deleted"
	ReasonExpired = "expired"
	ReasonTimeout = "timeout"
)

var (
	ListingsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "listings_created_total", Help: "Total listings created"},
	)
	ListingsRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "listings_removed_total", Help: "Total listings removed"},
		[]string{"reason"},
	)
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"route", "method", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Request duration seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// MustRegister registers every collector with the given registerer, along with
// a gauge reporting the number of live listings as returned by liveFunc.
func MustRegister(registerer prometheus.Registerer, liveFunc func() int) {
	listingsLive := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: "listings_live", Help: "Listings currently stored"},
		func() float64 { return float64(liveFunc()) },
	)

	registerer.MustRegister(ListingsCreated, ListingsRemoved, RequestsTotal, RequestDuration, listingsLive)
}
