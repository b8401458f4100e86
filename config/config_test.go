package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 365*24*time.Hour, cfg.CertValidity)
	assert.Equal(t, 15*time.Minute, cfg.TokenValidity)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv(EnvDeploymentSecret, "hunter2")
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvCertValidityDays, "30")
	t.Setenv(EnvTokenValidityMin, "5")
	t.Setenv(EnvOrganization, "ACME")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.DeploymentSecret)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 30*24*time.Hour, cfg.CertValidity)
	assert.Equal(t, 30, cfg.CertValidityDays())
	assert.Equal(t, 5*time.Minute, cfg.TokenValidity)
	assert.Equal(t, "ACME", cfg.Organization)
}

func TestFromEnv_BadNumber(t *testing.T) {
	t.Setenv(EnvPort, "not-a-port")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.DeploymentSecret = "hunter2"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing deployment secret", func(c *Config) { c.DeploymentSecret = "" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"zero certificate validity", func(c *Config) { c.CertValidity = 0 }},
		{"zero CRL validity", func(c *Config) { c.CRLValidity = 0 }},
		{"zero token validity", func(c *Config) { c.TokenValidity = 0 }},
		{"maintenance period not below CRL validity", func(c *Config) { c.MaintenancePeriod = c.CRLValidity }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_MissingSecretSentinel(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrDeploymentSecretMissing)
}
