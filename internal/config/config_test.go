package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("IDPORT_JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when jwt secret is missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IDPORT_JWT_SECRET", "test-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.HTTP.Addr)
	}
	if cfg.JWT.AccessTTL != 24*time.Hour {
		t.Fatalf("unexpected access ttl: %s", cfg.JWT.AccessTTL)
	}
	if cfg.JWT.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %s", cfg.JWT.RefreshTTL)
	}
	if cfg.BankID.QRValidFor != 30*time.Second {
		t.Fatalf("unexpected qr window: %s", cfg.BankID.QRValidFor)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IDPORT_JWT_SECRET", "test-secret")
	t.Setenv("IDPORT_JWT_ACCESS_TTL", "15m")
	t.Setenv("IDPORT_BANKID_ENDPOINT", "https://appapi2.test.bankid.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWT.AccessTTL != 15*time.Minute {
		t.Fatalf("override not applied: %s", cfg.JWT.AccessTTL)
	}
	if cfg.BankID.Endpoint != "https://appapi2.test.bankid.com" {
		t.Fatalf("override not applied: %s", cfg.BankID.Endpoint)
	}
}

func TestLoadRejectsInvertedTTLs(t *testing.T) {
	t.Setenv("IDPORT_JWT_SECRET", "test-secret")
	t.Setenv("IDPORT_JWT_ACCESS_TTL", "48h")
	t.Setenv("IDPORT_JWT_REFRESH_TTL", "24h")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when refresh ttl does not exceed access ttl")
	}
}
