package config

import (
	"testing"
	"time"

	"github.com/flexprice/invoicing/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "PROF", cfg.Numbering.ProformaSeries)
	assert.Equal(t, "FISC", cfg.Numbering.FiscalSeries)
	assert.Equal(t, int64(1000), cfg.Numbering.ProformaStart)
	assert.Equal(t, 24*time.Hour, cfg.ExchangeRate.TTL)
	assert.Equal(t, types.SideEffectModeSync, cfg.SideEffects.Mode)
	assert.False(t, cfg.Numbering.AllowInProcessFallback)
}

func TestValidate_RejectsUnknownSideEffectMode(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.SideEffects.Mode = "later"
	assert.Error(t, cfg.Validate())
}

func TestNewConfig_EnvOverrides(t *testing.T) {
	t.Setenv("INVOICING_NUMBERING_PROFORMA_SERIES", "PRO")
	t.Setenv("INVOICING_EXCHANGE_RATE_TTL", "1h")
	t.Setenv("INVOICING_SIDE_EFFECTS_MODE", "async")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "PRO", cfg.Numbering.ProformaSeries)
	assert.Equal(t, time.Hour, cfg.ExchangeRate.TTL)
	assert.Equal(t, types.SideEffectModeAsync, cfg.SideEffects.Mode)
}

func TestPostgresConfig_URLs(t *testing.T) {
	c := PostgresConfig{
		Host:     "db",
		Port:     5432,
		User:     "u",
		Password: "p",
		DBName:   "invoicing",
		SSLMode:  "disable",
	}
	assert.Equal(t, "user=u password=p dbname=invoicing host=db port=5432 sslmode=disable", c.GetDSN())
	assert.Equal(t, "postgres://u:p@db:5432/invoicing?sslmode=disable", c.GetMigrationURL())
}
