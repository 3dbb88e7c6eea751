package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vds",
		Name:      "frames_read_total",
		Help:      "Total number of frames decoded from uploaded videos",
	})

	FramesInferred = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vds",
		Name:      "frames_inferred_total",
		Help:      "Total number of sampled frames run through the detector",
	})

	SourceCloseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vds",
		Name:      "source_close_errors_total",
		Help:      "Decoders that exited with an error after the last frame was read",
	})

	PositiveFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vds",
		Name:      "positive_frames_total",
		Help:      "Total number of sampled frames accepted as violent",
	})

	VideosProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vds",
		Name:      "videos_processed_total",
		Help:      "Total number of uploaded videos by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vds",
		Name:      "stage_duration_seconds",
		Help:      "Duration of processing stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"stage"})

	AlertDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vds",
		Name:      "alert_deliveries_total",
		Help:      "Alert delivery attempts by call and result",
	}, []string{"call", "result"})

	AlertQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vds",
		Name:      "alert_queue_depth",
		Help:      "Number of alerts waiting for delivery",
	})

	SweepRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vds",
		Name:      "sweep_removed_total",
		Help:      "Number of stale upload artifacts removed by the cleanup sweep",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vds",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vds",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
