package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path", "status"},
	)

	// OrdersTotal counts submitted orders by side and instrument.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_orders_total",
			Help: "Total number of submitted orders by side",
		},
		[]string{"side", "instrument"},
	)

	// TradesTotal counts settled trades.
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_trades_total",
			Help: "Total number of settled trades by instrument",
		},
		[]string{"instrument"},
	)

	// TradeVolume counts settled units.
	TradeVolume = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_trade_volume_total",
			Help: "Total settled quantity by instrument",
		},
		[]string{"instrument"},
	)

	// BookVolume tracks resting volume per side of each book.
	BookVolume = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_book_volume",
			Help: "Resting order volume by instrument and side",
		},
		[]string{"instrument", "side"},
	)

	// SweepMatchesTotal counts trades produced by the reconciliation sweeper.
	SweepMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_sweep_matches_total",
			Help: "Total trades produced by the crossed-book sweeper",
		},
		[]string{"instrument"},
	)
)

// PrometheusMiddleware records request durations for every route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
