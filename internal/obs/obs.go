// Package obs wires logging and metrics. Services stay logger-free;
// entrypoints and middleware log, handlers bump counters.
package obs

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. format is "json" or "console";
// level accepts zerolog level names and defaults to info.
func NewLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

// RequestLogger logs one line per request with status and duration.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Checkout outcome labels.
const (
	OutcomeCompleted = "completed"
	OutcomeDeclined  = "declined"
	OutcomeGateway   = "gateway_error"
	OutcomeConflict  = "conflict"
	OutcomeInvalid   = "invalid"
)

// Metrics holds the domain counters exposed on /metrics. A nil
// *Metrics is a valid no-op receiver so tests skip registration.
type Metrics struct {
	checkouts      *prometheus.CounterVec
	redemptions    prometheus.Counter
	stockConflicts prometheus.Counter
	reconEnqueued  prometheus.Counter
}

// NewMetrics registers and returns the domain counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_attempts_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		redemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coupon_redemptions_total",
			Help: "Coupon redemptions recorded at checkout.",
		}),
		stockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_conflicts_total",
			Help: "Stock decrements rejected by the non-negative guard.",
		}),
		reconEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciliation_tasks_enqueued_total",
			Help: "Post-payment steps deferred to reconciliation.",
		}),
	}
	reg.MustRegister(m.checkouts, m.redemptions, m.stockConflicts, m.reconEnqueued)
	return m
}

// ObserveCheckout counts one checkout attempt.
func (m *Metrics) ObserveCheckout(outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome).Inc()
}

// ObserveRedemption counts one recorded coupon redemption.
func (m *Metrics) ObserveRedemption() {
	if m == nil {
		return
	}
	m.redemptions.Inc()
}

// ObserveStockConflict counts one rejected stock decrement.
func (m *Metrics) ObserveStockConflict() {
	if m == nil {
		return
	}
	m.stockConflicts.Inc()
}

// ObserveReconEnqueued counts one deferred post-payment step.
func (m *Metrics) ObserveReconEnqueued() {
	if m == nil {
		return
	}
	m.reconEnqueued.Inc()
}
