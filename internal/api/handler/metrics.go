package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wipeledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wipeledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	appendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wipeledger_appends_total",
		Help: "Total certificates appended to the ledger by origin.",
	}, []string{"origin"})

	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wipeledger_ingest_total",
		Help: "Ingestion attempts by outcome.",
	}, []string{"outcome"})

	verificationLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wipeledger_verification_lookups_total",
		Help: "Verification code lookups by result.",
	}, []string{"result"})

	chainBreaks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wipeledger_chain_breaks",
		Help: "Breaks found by the most recent full chain verification.",
	})

	chainLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wipeledger_chain_length",
		Help: "Records in the ledger at the most recent full chain verification.",
	})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wipeledger_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wipeledger_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by route class.",
	}, []string{"class"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records a certificate appended under origin.
func RecordAppend(origin certledger.Origin) {
	appendsTotal.WithLabelValues(string(origin)).Inc()
}

// RecordIngest records an ingestion outcome: "uploaded", "invalid",
// "integrity_mismatch", "duplicate" or "error".
func RecordIngest(outcome string) {
	ingestTotal.WithLabelValues(outcome).Inc()
}

// RecordVerificationLookup records a verification code lookup.
func RecordVerificationLookup(found bool) {
	if found {
		verificationLookupsTotal.WithLabelValues("found").Inc()
	} else {
		verificationLookupsTotal.WithLabelValues("not_found").Inc()
	}
}

// RecordChainReport records the outcome of a full chain verification.
func RecordChainReport(r *certledger.Report) {
	chainBreaks.Set(float64(len(r.Breaks)))
	chainLength.Set(float64(r.Length))
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
