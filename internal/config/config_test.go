package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func secrets() map[string]string {
	return map[string]string{
		"PAIRING_PEPPER":     "pp",
		"PAIRING_ENC_KEY":    "ek",
		"OTP_PEPPER":         "op",
		"COLLABORATOR_TOKEN": "ct",
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envOf(secrets()))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "chatgate.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.MaxDevices)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.PairingTTL)
	assert.Equal(t, 3, cfg.PairingAttempts)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.WSOrigins)
}

func TestFromEnvOverrides(t *testing.T) {
	env := secrets()
	env["PORT"] = "9000"
	env["MAX_DEVICES"] = "5"
	env["SESSION_TTL"] = "24h"
	env["COOKIE_SECURE"] = "false"
	env["WS_ORIGINS"] = "app.example.com, *.example.org ,"
	env["LOG_FORMAT"] = "json"

	cfg, err := FromEnv(envOf(env))
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 5, cfg.MaxDevices)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, []string{"app.example.com", "*.example.org"}, cfg.WSOrigins)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestFromEnvReportsAllProblems(t *testing.T) {
	_, err := FromEnv(envOf(map[string]string{
		"MAX_DEVICES": "zero",
		"PAIRING_TTL": "-1m",
	}))
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"PAIRING_PEPPER", "PAIRING_ENC_KEY", "OTP_PEPPER", "COLLABORATOR_TOKEN", "MAX_DEVICES", "PAIRING_TTL"} {
		assert.Contains(t, msg, want)
	}
}
