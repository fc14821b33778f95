// Package metrics holds the Prometheus collectors shared by the bartab
// processes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts settled market trades by asset and side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bartab_trades_total",
		Help: "Total number of settled market trades",
	}, []string{"asset", "side"})

	// TradeRejections counts trades refused before settlement, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bartab_trade_rejections_total",
		Help: "Trades rejected by validation or the trade limiter",
	}, []string{"reason"})

	MarketOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bartab_market_open",
		Help: "1 while the simulated market is open",
	})

	GoldPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bartab_gold_price",
		Help: "Current simulated gold price per ounce",
	})

	StockPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bartab_stock_price",
		Help: "Current simulated stock price",
	}, []string{"symbol"})

	MarketSentiment = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bartab_market_sentiment",
		Help: "Market sentiment in [-1, 1] from the last tick",
	})

	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bartab_market_ticks_total",
		Help: "Price ticks applied while the market was open",
	})

	// OverflowLost counts coins dropped because the bank was full.
	OverflowLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bartab_overflow_lost_coins_total",
		Help: "Coins dropped by balance updates that exceeded the bank limit",
	})

	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bartab_lock_timeouts_total",
		Help: "Account lock acquisitions that timed out",
	})

	CooldownsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bartab_cooldowns_purged_total",
		Help: "Expired cooldown records removed by the worker",
	})

	AccountsMigrated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bartab_accounts_migrated_total",
		Help: "Account documents rewritten at the current schema version",
	})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bartab_websocket_clients",
		Help: "Number of connected market feed clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bartab_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bartab_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency. The path label is the chi
// route pattern so account ids do not blow up cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
