package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCountersByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSession("OK")
	m.ObserveSession("OK")
	m.ObserveSession("SESSION_EXPIRED")
	m.ObservePairing("confirm", "INVALID_CODE")
	m.ObserveDevice("revoke", "OK")
	m.ObserveOTP("verify", "OK")
	m.ObserveRequest("GET", "/health", 200, 3*time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, reg, "chatgate_session_validations_total", map[string]string{"outcome": "OK"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chatgate_session_validations_total", map[string]string{"outcome": "SESSION_EXPIRED"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chatgate_pairing_operations_total", map[string]string{"op": "confirm", "outcome": "INVALID_CODE"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chatgate_device_operations_total", map[string]string{"op": "revoke", "outcome": "OK"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chatgate_otp_operations_total", map[string]string{"op": "verify", "outcome": "OK"}))
}

func TestNopDiscards(t *testing.T) {
	m := Nop()
	assert.NotPanics(t, func() {
		m.ObserveSession("OK")
		m.ObserveRequest("GET", "/", 500, time.Second)
	})
}
