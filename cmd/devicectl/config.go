package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/hublink/internal/config"
	"github.com/danmuck/hublink/internal/device"
	"github.com/danmuck/hublink/internal/sas"
)

// loadServiceConfig layers the TOML file over the device defaults. Only keys
// present in the file override a default.
func loadServiceConfig(path string) (device.ServiceConfig, error) {
	cfg := device.DefaultServiceConfig()

	var raw config.DeviceFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return device.ServiceConfig{}, fmt.Errorf("load device config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return device.ServiceConfig{}, fmt.Errorf("%w: %s", config.ErrUnknownField, undecoded[0].String())
	}

	if meta.IsDefined("device_id") {
		cfg.DeviceID = strings.TrimSpace(raw.DeviceID)
	}
	if meta.IsDefined("hub_name") {
		cfg.HubName = strings.TrimSpace(raw.HubName)
	}
	if meta.IsDefined("token_validity_days") {
		cfg.TokenValidityDays = raw.TokenValidityDays
	}
	if meta.IsDefined("sensor") {
		cfg.SensorKind = strings.TrimSpace(raw.Sensor)
	}
	if meta.IsDefined("sensor_name") {
		cfg.SensorName = strings.TrimSpace(raw.SensorName)
	}
	if meta.IsDefined("sensor_path") {
		cfg.SensorPath = strings.TrimSpace(raw.SensorPath)
	}
	if meta.IsDefined("action") {
		cfg.ActionName = strings.TrimSpace(raw.Action)
	}
	if meta.IsDefined("action_path") {
		cfg.ActionValuePath = strings.TrimSpace(raw.ActionPath)
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = raw.AdminCORSOrigins
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("sender_link") {
		cfg.SenderLink = strings.TrimSpace(raw.SenderLink)
	}
	if meta.IsDefined("receiver_link") {
		cfg.ReceiverLink = strings.TrimSpace(raw.ReceiverLink)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"token_renew_before", raw.TokenRenewBefore, &cfg.TokenRenewBefore},
		{"action_hold", raw.ActionHold, &cfg.ActionHold},
		{"sample_interval", raw.SampleInterval, &cfg.SampleInterval},
		{"poll_timeout", raw.PollTimeout, &cfg.PollTimeout},
		{"health_window", raw.HealthWindow, &cfg.HealthWindow},
		{"send_timeout", raw.SendTimeout, &cfg.SendTimeout},
		{"link_timeout", raw.LinkTimeout, &cfg.LinkTimeout},
		{"disconnect_timeout", raw.DisconnectTimeout, &cfg.DisconnectTimeout},
		{"backoff.initial_delay", raw.Backoff.InitialDelay, &cfg.Backoff.InitialDelay},
		{"backoff.max_delay", raw.Backoff.MaxDelay, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return device.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}

	secret, err := config.LoadSecret(raw.PrimaryKey, relativeTo(path, raw.PrimaryKeyFile))
	if err != nil {
		return device.ServiceConfig{}, err
	}
	cfg.PrimaryKey = secret

	if cfg.HubName != "" {
		tlsCfg, err := config.ClientTLS(relativeTo(path, raw.CAFile), sas.Hostname(cfg.HubName))
		if err != nil {
			return device.ServiceConfig{}, err
		}
		cfg.TLS = tlsCfg
	}
	return cfg, nil
}

// relativeTo resolves a relative file reference against the config file's
// directory.
func relativeTo(configPath, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(filepath.Dir(configPath), ref)
}
