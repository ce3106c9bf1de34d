package src

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadEnvDefaults(t *testing.T) {
	cfg, err := LoadEnv(envFrom(map[string]string{
		"RECAPTCHA_SECRET": "  recaptcha-secret ",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "release", cfg.ApplicationMode)
	assert.Equal(t, "recaptcha-secret", cfg.RecaptchaSecret)
	assert.Empty(t, cfg.HcaptchaSecret)
	assert.Equal(t, ClientHTTP, cfg.RecaptchaClient)
	assert.Equal(t, 10*time.Second, cfg.VerifyTimeout())
	assert.Equal(t, 20, cfg.MaxAttemptsPerMinute)
	assert.Equal(t, 2*time.Minute, cfg.ReplayWindow())
	assert.False(t, cfg.EchoVerifierResponse)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := LoadEnv(envFrom(map[string]string{
		"PORT":                    "9090",
		"APPLICATION_MODE":        "debug",
		"HCAPTCHA_SECRET":         "h-secret",
		"HCAPTCHA_VERIFY_URL":     "http://localhost:1/siteverify",
		"RECAPTCHA_CLIENT":        "SDK",
		"VERIFY_TIMEOUT_SECOND":   "3",
		"MAX_ATTEMPTS_PER_MINUTE": "0",
		"REPLAY_WINDOW_SECOND":    "30",
		"ECHO_VERIFIER_RESPONSE":  "true",
		"ALLOWED_ORIGINS":         "https://a.example, ,https://b.example",
		"EVENTS_KEY":              "ops",
		"TRUSTED_PROXIES":         "10.0.0.0/8, 192.0.2.1",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.ApplicationMode)
	assert.Equal(t, ClientSDK, cfg.RecaptchaClient)
	assert.Equal(t, 3*time.Second, cfg.VerifyTimeout())
	assert.Equal(t, 0, cfg.MaxAttemptsPerMinute)
	assert.Equal(t, 30*time.Second, cfg.ReplayWindow())
	assert.True(t, cfg.EchoVerifierResponse)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "ops", cfg.EventsKey)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.TrustedProxies)
}

func TestLoadEnvRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
	}{
		{name: "no provider", values: map[string]string{}},
		{name: "blank secrets", values: map[string]string{"RECAPTCHA_SECRET": "   ", "HCAPTCHA_SECRET": ""}},
		{name: "bad client", values: map[string]string{"RECAPTCHA_SECRET": "s", "RECAPTCHA_CLIENT": "grpc"}},
		{name: "zero timeout", values: map[string]string{"RECAPTCHA_SECRET": "s", "VERIFY_TIMEOUT_SECOND": "0"}},
		{name: "non numeric timeout", values: map[string]string{"RECAPTCHA_SECRET": "s", "VERIFY_TIMEOUT_SECOND": "ten"}},
		{name: "negative attempts", values: map[string]string{"RECAPTCHA_SECRET": "s", "MAX_ATTEMPTS_PER_MINUTE": "-1"}},
		{name: "negative replay window", values: map[string]string{"RECAPTCHA_SECRET": "s", "REPLAY_WINDOW_SECOND": "-5"}},
		{name: "bad mode", values: map[string]string{"RECAPTCHA_SECRET": "s", "APPLICATION_MODE": "prod"}},
		{name: "origin without scheme", values: map[string]string{"RECAPTCHA_SECRET": "s", "ALLOWED_ORIGINS": "example.com"}},
		{name: "bad trusted proxy", values: map[string]string{"RECAPTCHA_SECRET": "s", "TRUSTED_PROXIES": "proxy.internal"}},
		{name: "bad echo flag", values: map[string]string{"RECAPTCHA_SECRET": "s", "ECHO_VERIFIER_RESPONSE": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadEnv(envFrom(tt.values))
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, mode := range []string{"debug", "release"} {
		logger, err := NewLogger(mode)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
}
