package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	// Relay
	Connections prometheus.Gauge
	Relayed     *prometheus.CounterVec
	Dropped     prometheus.Counter
}

// NewServerMetrics registers the relay collectors with reg, or the default
// registry when reg is nil.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pawmart",
		Subsystem: "relay",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pawmart",
		Subsystem: "relay",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	conns := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pawmart",
		Subsystem: "relay",
		Name:      "websocket_connections",
		Help:      "Open websocket connections.",
	})
	relayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pawmart",
		Subsystem: "relay",
		Name:      "events_total",
		Help:      "Inbound websocket events by name.",
	}, []string{"event"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pawmart",
		Subsystem: "relay",
		Name:      "slow_clients_dropped_total",
		Help:      "Connections closed because their send buffer was full.",
	})

	reg.MustRegister(requests, latency, conns, relayed, dropped)
	return &ServerMetrics{
		Requests:    requests,
		LatencyMS:   latency,
		Connections: conns,
		Relayed:     relayed,
		Dropped:     dropped,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument counts and times requests to next under the name handler.
func (m *ServerMetrics) Instrument(handler string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r, ps)
		m.Requests.WithLabelValues(handler, strconv.Itoa(rec.status)).Inc()
		m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
