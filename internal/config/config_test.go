package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 5*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.OTP.ReverifyWindow)
	assert.Equal(t, 5, cfg.MoMo.PollAttempts)
	assert.Equal(t, 2*time.Second, cfg.MoMo.PollInterval)
	assert.NotEmpty(t, cfg.Secret())
}

func TestLoadRequiresBackendsOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("OTP_TTL", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestAddressKeepsColonPrefix(t *testing.T) {
	cfg := Config{Port: ":9090"}
	assert.Equal(t, ":9090", cfg.Address())
}
