// Package config loads the process configuration once at startup. Core
// packages never read environment variables themselves; they receive the
// relevant slice of Config through their constructors.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "IDPORT"

// HTTP holds listener and middleware settings.
type HTTP struct {
	Addr            string
	MaxBodyBytes    int64
	RateLimitPerSec int
	RateLimitBurst  int
}

// Postgres holds database connection settings.
type Postgres struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// JWT holds token signing settings consumed by the token service.
type JWT struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// BankID holds settings for the e-ID provider channel.
type BankID struct {
	Endpoint       string
	CertPath       string
	KeyPath        string
	CACertPath     string
	RequestTimeout time.Duration
	QRValidFor     time.Duration
	OrderCacheTTL  time.Duration
}

// Config is the root configuration object, constructed once in main.
type Config struct {
	HTTP     HTTP
	Postgres Postgres
	JWT      JWT
	BankID   BankID
}

// Load reads configuration from the environment (IDPORT_ prefix, nested keys
// joined with underscores, e.g. IDPORT_JWT_SECRET) and validates it.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("http.rate_limit_per_sec", 20)
	v.SetDefault("http.rate_limit_burst", 40)

	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("jwt.issuer", "idport")
	v.SetDefault("jwt.access_ttl", 24*time.Hour)
	v.SetDefault("jwt.refresh_ttl", 7*24*time.Hour)

	v.SetDefault("bankid.request_timeout", 10*time.Second)
	v.SetDefault("bankid.qr_valid_for", 30*time.Second)
	v.SetDefault("bankid.order_cache_ttl", 30*time.Second)

	cfg := Config{
		HTTP: HTTP{
			Addr:            v.GetString("http.addr"),
			MaxBodyBytes:    v.GetInt64("http.max_body_bytes"),
			RateLimitPerSec: v.GetInt("http.rate_limit_per_sec"),
			RateLimitBurst:  v.GetInt("http.rate_limit_burst"),
		},
		Postgres: Postgres{
			DSN:             v.GetString("postgres.dsn"),
			MaxOpenConns:    v.GetInt("postgres.max_open_conns"),
			MaxIdleConns:    v.GetInt("postgres.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
		},
		JWT: JWT{
			Secret:     v.GetString("jwt.secret"),
			Issuer:     v.GetString("jwt.issuer"),
			AccessTTL:  v.GetDuration("jwt.access_ttl"),
			RefreshTTL: v.GetDuration("jwt.refresh_ttl"),
		},
		BankID: BankID{
			Endpoint:       v.GetString("bankid.endpoint"),
			CertPath:       v.GetString("bankid.cert_path"),
			KeyPath:        v.GetString("bankid.key_path"),
			CACertPath:     v.GetString("bankid.ca_cert_path"),
			RequestTimeout: v.GetDuration("bankid.request_timeout"),
			QRValidFor:     v.GetDuration("bankid.qr_valid_for"),
			OrderCacheTTL:  v.GetDuration("bankid.order_cache_ttl"),
		},
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt secret is required")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return fmt.Errorf("config: refresh TTL %s must exceed access TTL %s", c.JWT.RefreshTTL, c.JWT.AccessTTL)
	}
	if c.BankID.QRValidFor <= 0 {
		return errors.New("config: bankid qr validity window must be positive")
	}
	if c.BankID.RequestTimeout <= 0 {
		return errors.New("config: bankid request timeout must be positive")
	}
	return nil
}
