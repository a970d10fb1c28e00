package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "device":
		return deviceTemplate, nil
	case "service":
		return serviceTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const deviceTemplate = `device_id = "device-01"
hub_name = "my-hub"
primary_key_file = "local/device-01.key"
ca_file = ""
token_validity_days = 1
token_renew_before = "1h"

sensor = "simulated"
sensor_name = "temperature"
sensor_path = "/sys/class/thermal/thermal_zone0/temp"
action = "test"
action_path = ""
action_hold = "2s"
sample_interval = "20s"
poll_timeout = "2s"
health_window = "100ms"
send_timeout = "10s"
link_timeout = "5s"
disconnect_timeout = "5s"

sender_link = "sender_link_global"
receiver_link = "recv_link_global"
admin_listen = "127.0.0.1:9310"
admin_cors_origins = []
admin_token = ""

[backoff]
initial_delay = "500ms"
multiplier = 2.0
max_delay = "30s"
jitter = true
`

const serviceTemplate = `hub_name = "my-hub"
policy = "iothubowner"
primary_key_file = "local/iothubowner.key"
ca_file = ""
send_timeout = "10s"
`
