package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records outcomes of the access-control operations. Outcome labels
// are the closed result codes each package returns.
type Metrics interface {
	ObserveSession(outcome string)
	ObserveDevice(op, outcome string)
	ObservePairing(op, outcome string)
	ObserveOTP(op, outcome string)
	ObserveRequest(method, route string, status int, d time.Duration)
}

type promMetrics struct {
	sessions *prometheus.CounterVec
	devices  *prometheus.CounterVec
	pairing  *prometheus.CounterVec
	otp      *prometheus.CounterVec
	requests *prometheus.HistogramVec
}

func New(registry *prometheus.Registry) Metrics {
	f := promauto.With(registry)
	return &promMetrics{
		sessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatgate_session_validations_total",
				Help: "Session validations by outcome",
			},
			[]string{"outcome"},
		),
		devices: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatgate_device_operations_total",
				Help: "Device registry operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		pairing: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatgate_pairing_operations_total",
				Help: "Pairing challenge operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		otp: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatgate_otp_operations_total",
				Help: "OTP requests and verifications by outcome",
			},
			[]string{"op", "outcome"},
		),
		requests: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatgate_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

func (m *promMetrics) ObserveSession(outcome string) {
	m.sessions.WithLabelValues(outcome).Inc()
}

func (m *promMetrics) ObserveDevice(op, outcome string) {
	m.devices.WithLabelValues(op, outcome).Inc()
}

func (m *promMetrics) ObservePairing(op, outcome string) {
	m.pairing.WithLabelValues(op, outcome).Inc()
}

func (m *promMetrics) ObserveOTP(op, outcome string) {
	m.otp.WithLabelValues(op, outcome).Inc()
}

func (m *promMetrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

type nop struct{}

// Nop discards everything.
func Nop() Metrics { return nop{} }

func (nop) ObserveSession(string)                             {}
func (nop) ObserveDevice(string, string)                      {}
func (nop) ObservePairing(string, string)                     {}
func (nop) ObserveOTP(string, string)                         {}
func (nop) ObserveRequest(string, string, int, time.Duration) {}
