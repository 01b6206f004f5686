package controllers

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sowAPIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sow",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total number of SOW API requests broken down by endpoint and result.",
	}, []string{"endpoint", "result"})

	sowAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sow",
		Subsystem: "api",
		Name:      "latency_seconds",
		Help:      "Latency distribution for SOW API requests.",
		Buckets: []float64{
			0.001, 0.005, 0.01, 0.05,
			0.1, 0.25, 0.5,
			1, 2.5, 5, 10,
		},
	}, []string{"endpoint", "result"})
)

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// instrumentAPI labels by endpoint name rather than path so document ids do
// not explode cardinality.
func instrumentAPI(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		result := "2xx"
		switch {
		case rec.status >= 500:
			result = "5xx"
		case rec.status >= 400:
			result = "4xx"
		}
		sowAPIRequests.WithLabelValues(endpoint, result).Inc()
		sowAPILatency.WithLabelValues(endpoint, result).Observe(time.Since(start).Seconds())
	}
}
