package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "verifications_total",
		Help:      "Total number of verification attempts by decision",
	}, []string{"decision"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "stage_duration_seconds",
		Help:      "Duration of verification stages (encode, match, archive)",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	GalleryIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "gallery_identities",
		Help:      "Number of identities loaded in the in-memory gallery",
	})

	GallerySignatures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "gallery_signatures",
		Help:      "Number of signature vectors loaded in the in-memory gallery",
	})

	OtpIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "otp_issued_total",
		Help:      "Total number of one-time codes issued by purpose",
	}, []string{"purpose"})

	OtpVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "otp_verdicts_total",
		Help:      "Total number of code verification verdicts",
	}, []string{"verdict"})

	OtpDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "otp_deliveries_total",
		Help:      "Total number of code delivery attempts by outcome",
	}, []string{"outcome"})

	DeliveryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "delivery_retries_total",
		Help:      "Total number of redelivered notification tasks",
	})

	PendingDeliveries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "pending_deliveries",
		Help:      "Number of notification tasks waiting in the delivery queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
