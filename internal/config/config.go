package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var (
	ErrMissingField = errors.New("config: missing field")
	ErrUnknownField = errors.New("config: unknown field")
)

// DeviceFile mirrors the device runtime TOML file. Durations are Go
// duration strings ("10s", "1h").
type DeviceFile struct {
	DeviceID          string      `toml:"device_id"`
	HubName           string      `toml:"hub_name"`
	PrimaryKey        string      `toml:"primary_key"`
	PrimaryKeyFile    string      `toml:"primary_key_file"`
	CAFile            string      `toml:"ca_file"`
	TokenValidityDays int         `toml:"token_validity_days"`
	TokenRenewBefore  string      `toml:"token_renew_before"`
	Sensor            string      `toml:"sensor"`
	SensorName        string      `toml:"sensor_name"`
	SensorPath        string      `toml:"sensor_path"`
	Action            string      `toml:"action"`
	ActionPath        string      `toml:"action_path"`
	ActionHold        string      `toml:"action_hold"`
	SampleInterval    string      `toml:"sample_interval"`
	PollTimeout       string      `toml:"poll_timeout"`
	HealthWindow      string      `toml:"health_window"`
	SendTimeout       string      `toml:"send_timeout"`
	LinkTimeout       string      `toml:"link_timeout"`
	DisconnectTimeout string      `toml:"disconnect_timeout"`
	AdminListen       string      `toml:"admin_listen"`
	AdminCORSOrigins  []string    `toml:"admin_cors_origins"`
	AdminToken        string      `toml:"admin_token"`
	SenderLink        string      `toml:"sender_link"`
	ReceiverLink      string      `toml:"receiver_link"`
	Backoff           BackoffFile `toml:"backoff"`
}

type BackoffFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

// ServiceProfile holds the shared access policy an operator uses to talk to a hub.
type ServiceProfile struct {
	HubName        string `toml:"hub_name"`
	Policy         string `toml:"policy"`
	PrimaryKey     string `toml:"primary_key"`
	PrimaryKeyFile string `toml:"primary_key_file"`
	CAFile         string `toml:"ca_file"`
	SendTimeout    string `toml:"send_timeout"`
}

// LoadServiceProfile reads and validates a service profile.
func LoadServiceProfile(path string) (ServiceProfile, error) {
	var p ServiceProfile
	if err := loadStrict(path, &p); err != nil {
		return ServiceProfile{}, err
	}
	if strings.TrimSpace(p.Policy) == "" {
		p.Policy = "iothubowner"
	}
	if err := ValidateServiceProfile(p); err != nil {
		return ServiceProfile{}, err
	}
	return p, nil
}

// ValidateDeviceFile checks a device file for unknown keys and the fields
// every device needs. It does not apply defaults.
func ValidateDeviceFile(path string) (DeviceFile, error) {
	var f DeviceFile
	if err := loadStrict(path, &f); err != nil {
		return DeviceFile{}, err
	}
	if strings.TrimSpace(f.DeviceID) == "" {
		return DeviceFile{}, fmt.Errorf("%w: device_id", ErrMissingField)
	}
	if strings.TrimSpace(f.HubName) == "" {
		return DeviceFile{}, fmt.Errorf("%w: hub_name", ErrMissingField)
	}
	if strings.TrimSpace(f.PrimaryKey) == "" && strings.TrimSpace(f.PrimaryKeyFile) == "" {
		return DeviceFile{}, fmt.Errorf("%w: primary_key or primary_key_file", ErrMissingField)
	}
	return f, nil
}

func ValidateServiceProfile(p ServiceProfile) error {
	if strings.TrimSpace(p.HubName) == "" {
		return fmt.Errorf("%w: hub_name", ErrMissingField)
	}
	if strings.TrimSpace(p.PrimaryKey) == "" && strings.TrimSpace(p.PrimaryKeyFile) == "" {
		return fmt.Errorf("%w: primary_key or primary_key_file", ErrMissingField)
	}
	return nil
}

func loadStrict(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w (%s): %s", ErrUnknownField, path, strings.TrimSpace(strict.String()))
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
