package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Notes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notesync_notes",
			Help: "The number of notes held in memory",
		},
	)
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notesync_subscribers",
			Help: "The number of live streaming subscribers across all notes",
		},
	)
	Updates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notesync_updates_total",
			Help: "The total number of accepted note updates by channel",
		},
		[]string{"channel"},
	)
	Rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notesync_rejections_total",
			Help: "The total number of rejected requests and messages by reason",
		},
		[]string{"reason"},
	)
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notesync_broadcast_deliveries_total",
			Help: "The total number of broadcast deliveries by outcome",
		},
		[]string{"outcome"},
	)
	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notesync_evictions_total",
			Help: "The total number of stale notes evicted by the sweeper",
		},
	)
	SaveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notesync_save_failures_total",
			Help: "The total number of failed snapshot saves",
		},
	)
	SaveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notesync_save_duration_seconds",
			Help:    "The time taken to write a full snapshot to durable storage",
			Buckets: prometheus.DefBuckets,
		},
	)
)
