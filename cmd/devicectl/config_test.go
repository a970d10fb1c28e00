package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/hublink/internal/config"
	"github.com/danmuck/hublink/internal/device"
	"github.com/danmuck/hublink/internal/sensor"
	"github.com/danmuck/hublink/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DeviceID != "pi-kitchen" || cfg.HubName != "home-hub" {
		t.Fatalf("unexpected identity: %q@%q", cfg.DeviceID, cfg.HubName)
	}
	if cfg.TokenValidityDays != 2 || cfg.TokenRenewBefore != 30*time.Minute {
		t.Fatalf("unexpected token settings: %d %v", cfg.TokenValidityDays, cfg.TokenRenewBefore)
	}
	if cfg.SensorKind != sensor.KindTMP36 || cfg.SensorName != "kitchen" {
		t.Fatalf("unexpected sensor: %q %q", cfg.SensorKind, cfg.SensorName)
	}
	if cfg.ActionValuePath != "/sys/class/gpio/gpio26/value" || cfg.ActionHold != 2*time.Second {
		t.Fatalf("unexpected action: %q %v", cfg.ActionValuePath, cfg.ActionHold)
	}
	if cfg.AdminListenAddr != "127.0.0.1:9310" || len(cfg.AdminCORSOrigins) != 1 {
		t.Fatalf("unexpected admin: %q %+v", cfg.AdminListenAddr, cfg.AdminCORSOrigins)
	}
	if cfg.Backoff.InitialDelay != time.Second || cfg.Backoff.MaxDelay != time.Minute || cfg.Backoff.Jitter {
		t.Fatalf("unexpected backoff: %+v", cfg.Backoff)
	}
	if cfg.Backoff.Multiplier != 2 {
		t.Fatalf("multiplier must keep its default: %v", cfg.Backoff.Multiplier)
	}
	// Keys absent from the file keep their defaults.
	if cfg.HealthWindow != 100*time.Millisecond || cfg.SenderLink != "sender_link_global" {
		t.Fatalf("unexpected defaults: %v %q", cfg.HealthWindow, cfg.SenderLink)
	}
	if cfg.TLS == nil || cfg.TLS.ServerName != "home-hub.azure-devices.net" {
		t.Fatalf("unexpected tls: %+v", cfg.TLS)
	}
}

func TestLoadServiceConfigKeyFileRelativeToConfig(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
device_id = "d"
hub_name = "h"
primary_key_file = "device.key"
`)
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "device.key"), []byte("AAAAAAAAAAAAAAAAAAAAAA==\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PrimaryKey != "AAAAAAAAAAAAAAAAAAAAAA==" {
		t.Fatalf("unexpected key: %q", cfg.PrimaryKey)
	}
}

func TestLoadServiceConfigErrors(t *testing.T) {
	testlog.Start(t)
	if _, err := loadServiceConfig(writeConfig(t, `sample_interval = "soon"`+"\nprimary_key = \"k\"")); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if _, err := loadServiceConfig(writeConfig(t, `heartbeat = "5s"`)); !errors.Is(err, config.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if _, err := loadServiceConfig(writeConfig(t, `device_id = "d"`)); !errors.Is(err, config.ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing, got %v", err)
	}
	if _, err := loadServiceConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestRenewWindowLongerThanTokenIsRejected(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `device_id = "d"
hub_name = "h"
primary_key = "AAAAAAAAAAAAAAAAAAAAAA=="
token_validity_days = 1
token_renew_before = "25h"
`)
	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, err := device.NewService(cfg); !errors.Is(err, device.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}
