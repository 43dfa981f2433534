package metrics

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Acquire paths.
const (
	PathResumed = "resumed"
	PathRebuilt = "rebuilt"
)

var (
	SessionAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_session_acquire_total",
			Help: "Sessions handed out, by whether the live session was resumed or rebuilt from the store",
		},
		[]string{"path"},
	)

	CheckpointWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_checkpoint_writes_total",
			Help: "Checkpoint upserts, by outcome",
		},
		[]string{"status"},
	)

	TokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "continuity_tokens_issued_total",
			Help: "Verification tokens issued",
		},
	)

	TokenRedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_token_redemptions_total",
			Help: "Verification token redemptions, by outcome",
		},
		[]string{"result"},
	)

	TokensSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "continuity_tokens_swept_total",
			Help: "Used or expired verification tokens removed by the sweeper",
		},
	)

	WorkflowStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_workflow_steps_total",
			Help: "Workflow phases run, by phase and outcome",
		},
		[]string{"phase", "status"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "continuity_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Outcome labels a counter with ok/error.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware records request counts and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/metrics") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RegisterDBStats exposes connection pool statistics.
func RegisterDBStats(db *sql.DB, name string) {
	if err := prometheus.Register(collectors.NewDBStatsCollector(db, name)); err != nil {
		log.Warnf("DB stats collector not registered: %v", err)
	}
}
