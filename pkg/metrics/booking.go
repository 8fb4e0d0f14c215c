package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BookingMetrics instruments the booking engine's units of work.
type BookingMetrics struct {
	transitions *prometheus.CounterVec
	admissions  *prometheus.CounterVec
	stock       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewBookingMetrics registers the collectors on reg.
func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labbook",
			Name:      "booking_transitions_total",
			Help:      "Booking lifecycle transitions by event and result.",
		}, []string{"event", "result"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labbook",
			Name:      "booking_admissions_total",
			Help:      "Booking admission decisions by result.",
		}, []string{"result"}),
		stock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labbook",
			Name:      "stock_adjustments_total",
			Help:      "Committed stock ledger adjustments by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "labbook",
			Name:      "unit_of_work_duration_seconds",
			Help:      "Duration of booking units of work, including lock waits.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.transitions, m.admissions, m.stock, m.duration)
	return m
}

// ObserveTransition counts a lifecycle event outcome.
func (m *BookingMetrics) ObserveTransition(event string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, resultLabel(err)).Inc()
}

// ObserveAdmission counts a create/preview decision.
func (m *BookingMetrics) ObserveAdmission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

// ObserveStock counts a committed adjustment.
func (m *BookingMetrics) ObserveStock(reason string) {
	if m == nil {
		return
	}
	m.stock.WithLabelValues(reason).Inc()
}

// ObserveDuration records how long an operation took.
func (m *BookingMetrics) ObserveDuration(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Handler exposes the given gatherer at /metrics.
func Handler(g prometheus.Gatherer) gin.HandlerFunc {
	h := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RegisterRoutes mounts the metrics endpoint.
func RegisterRoutes(r *gin.Engine, g prometheus.Gatherer) {
	r.GET("/metrics", Handler(g))
	r.HEAD("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
