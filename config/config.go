// Package config collects the runtime settings of the certificate service.
// Flags take precedence over environment variables; the deployment secret
// is only ever read from the environment so it never shows up in process
// listings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// EnvDeploymentSecret names the environment variable holding the
	// secret that every stored key is encrypted under.
	EnvDeploymentSecret = "ANATH_DEPLOYMENT_SECRET"

	EnvPort              = "ANATH_PORT"
	EnvDataDir           = "ANATH_DATA_DIR"
	EnvCertValidityDays  = "ANATH_CERT_VALIDITY_DAYS"
	EnvCRLValidityDays   = "ANATH_CRL_VALIDITY_DAYS"
	EnvTokenValidityMin  = "ANATH_TOKEN_VALIDITY_MINUTES"
	EnvMaintenancePeriod = "ANATH_MAINTENANCE_PERIOD_MINUTES"
	EnvOrganization      = "ANATH_ORGANIZATION"
)

// ErrDeploymentSecretMissing aborts startup when no deployment secret is
// configured. There is no usable default for it.
var ErrDeploymentSecretMissing = errors.New("deployment secret is not set; export " + EnvDeploymentSecret)

// Config holds every tunable of the service.
type Config struct {
	Port             int
	DataDir          string
	DeploymentSecret string

	// Organization every issued certificate must belong to.
	Organization string

	CertValidity  time.Duration
	CRLValidity   time.Duration
	TokenValidity time.Duration

	// MaintenancePeriod is how often the CRL maintainer wakes up. It must
	// stay below CRLValidity or the CRL can go stale between ticks.
	MaintenancePeriod time.Duration
}

// Default returns the built-in settings before any environment or flag
// overrides.
func Default() Config {
	return Config{
		Port:              8443,
		DataDir:           "./data",
		CertValidity:      365 * 24 * time.Hour,
		CRLValidity:       24 * time.Hour,
		TokenValidity:     15 * time.Minute,
		MaintenancePeriod: 30 * time.Minute,
	}
}

// FromEnv builds a Config from the defaults with environment overrides
// applied. Flag handling layers on top of the returned value.
func FromEnv() (Config, error) {
	cfg := Default()
	cfg.DeploymentSecret = os.Getenv(EnvDeploymentSecret)

	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvOrganization); v != "" {
		cfg.Organization = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Port = port
	}

	for _, override := range []struct {
		env  string
		unit time.Duration
		dst  *time.Duration
	}{
		{EnvCertValidityDays, 24 * time.Hour, &cfg.CertValidity},
		{EnvCRLValidityDays, 24 * time.Hour, &cfg.CRLValidity},
		{EnvTokenValidityMin, time.Minute, &cfg.TokenValidity},
		{EnvMaintenancePeriod, time.Minute, &cfg.MaintenancePeriod},
	} {
		v := os.Getenv(override.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", override.env, err)
		}
		*override.dst = time.Duration(n) * override.unit
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot safely run with.
func (c Config) Validate() error {
	if c.DeploymentSecret == "" {
		return ErrDeploymentSecretMissing
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.CertValidity <= 0 {
		return errors.New("certificate validity must be positive")
	}
	if c.CRLValidity <= 0 {
		return errors.New("CRL validity must be positive")
	}
	if c.TokenValidity <= 0 {
		return errors.New("confirmation token validity must be positive")
	}
	if c.MaintenancePeriod <= 0 {
		return errors.New("maintenance period must be positive")
	}
	if c.MaintenancePeriod >= c.CRLValidity {
		return fmt.Errorf("maintenance period %s must be shorter than CRL validity %s",
			c.MaintenancePeriod, c.CRLValidity)
	}
	return nil
}

// CertValidityDays is CertValidity in whole days, as the signing engine
// counts it.
func (c Config) CertValidityDays() int {
	return int(c.CertValidity / (24 * time.Hour))
}
