package metrics

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMiddleware returns a Gin middleware that records HTTP metrics
func PrometheusMiddleware() gin.HandlerFunc {
	m := Get()

	return func(c *gin.Context) {
		// Skip metrics endpoint itself
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			// unmatched routes would explode cardinality with raw paths
			endpoint = "unknown"
		}

		m.RecordHTTPRequest(endpoint, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// PrometheusHandler returns the Prometheus HTTP handler
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// PoolCollector periodically samples database pool stats.
type PoolCollector struct {
	metrics  *Metrics
	db       *sql.DB
	interval time.Duration
	stopCh   chan struct{}
}

// NewPoolCollector creates a collector for the given sql.DB pool.
func NewPoolCollector(db *sql.DB, interval time.Duration) *PoolCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PoolCollector{
		metrics:  Get(),
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic collection.
func (pc *PoolCollector) Start() {
	go func() {
		ticker := time.NewTicker(pc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pc.collect()
			case <-pc.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector.
func (pc *PoolCollector) Stop() {
	close(pc.stopCh)
}

func (pc *PoolCollector) collect() {
	if pc.db == nil {
		return
	}
	stats := pc.db.Stats()
	pc.metrics.DBConnectionsActive.Set(float64(stats.InUse))
	pc.metrics.DBConnectionsIdle.Set(float64(stats.Idle))
}
