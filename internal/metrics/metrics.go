// Package metrics 进程级 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripsense_samples_ingested_total",
		Help: "Sensor samples folded into trip feature state",
	}, []string{"sensor_type"})

	SamplesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripsense_samples_dropped_total",
		Help: "Sensor samples rejected or discarded",
	}, []string{"reason"})

	BehavioursDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripsense_unsafe_behaviours_total",
		Help: "Unsafe driving behaviours detected",
	}, []string{"behaviour_type"})

	BehavioursDebounced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripsense_unsafe_behaviours_debounced_total",
		Help: "Repeated behaviours suppressed within the cooldown window",
	}, []string{"behaviour_type"})

	Checkpoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripsense_checkpoints_total",
		Help: "Trip feature state checkpoints by outcome",
	}, []string{"outcome"})

	TripsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripsense_trips_finalized_total",
		Help: "Finalized trips by classification label",
	}, []string{"label"})

	ClassificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tripsense_classification_duration_seconds",
		Help:    "Time spent scoring a finalized trip",
		Buckets: prometheus.DefBuckets,
	})

	UploadAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripsense_upload_attempts_total",
		Help: "Upload attempts by stream and outcome",
	}, []string{"stream", "outcome"})

	UnsyncedBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tripsense_unsynced_records",
		Help: "Records waiting for upload at the start of the last sync cycle",
	}, []string{"stream"})

	ActiveTrip = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tripsense_active_trip",
		Help: "1 while a trip is active",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripsense_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tripsense_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
