package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("KHALTI_LIVE_MODE", "")
	t.Setenv("KHALTI_BASE_URL", "")
	t.Setenv("VERIFY_MAX_GATEWAY_ATTEMPTS", "")
	t.Setenv("KHALTI_TIMEOUT", "")

	cfg := Load()

	assert.Equal(t, khaltiSandboxURL, cfg.Gateway.BaseURL)
	assert.False(t, cfg.Gateway.LiveMode)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 3, cfg.Verification.MaxGatewayAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Verification.RetryBackoff)
	assert.Equal(t, 50, cfg.Database.MaxOpenConns)
}

func TestLoad_LiveModeSelectsProductionURL(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("KHALTI_BASE_URL", "")
	t.Setenv("KHALTI_LIVE_MODE", "true")

	cfg := Load()

	assert.True(t, cfg.Gateway.LiveMode)
	assert.Equal(t, khaltiLiveURL, cfg.Gateway.BaseURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("KHALTI_TIMEOUT", "2s")
	t.Setenv("VERIFY_MAX_GATEWAY_ATTEMPTS", "5")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	assert.Equal(t, 2*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 5, cfg.Verification.MaxGatewayAttempts)
	assert.Equal(t, 0, cfg.Redis.DB, "invalid values fall back to the default")
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.Validate(), ErrMissingGatewaySecret)

	cfg.Gateway.SecretKey = "secret"
	assert.ErrorIs(t, cfg.Validate(), ErrMissingJWTSecret)

	cfg.Auth.JWTSecret = "jwt"
	require.NoError(t, cfg.Validate())
}
