package device

import (
	"bytes"
	"encoding/json"
)

// Command is a cloud-to-device message body. Devices accept readings in the
// same shape they publish, plus an optional action.
type Command struct {
	Action string   `json:"action,omitempty"`
	Sensor string   `json:"sensor,omitempty"`
	Value  *float64 `json:"value,omitempty"`
}

// DecodeCommand finds the JSON object in body and decodes it. Bodies sent
// through some service SDKs carry a short binary prefix before the object.
func DecodeCommand(body []byte) (Command, bool) {
	start := bytes.Index(body, []byte(`{"`))
	if start < 0 {
		return Command{}, false
	}
	var cmd Command
	if err := json.Unmarshal(body[start:], &cmd); err != nil {
		return Command{}, false
	}
	return cmd, true
}
