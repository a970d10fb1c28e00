package hub

import (
	"github.com/Azure/go-amqp"
	"github.com/google/uuid"
)

const (
	// ContentTypeJSON is set on every event this client builds.
	ContentTypeJSON = "application/json"

	// ServiceDeviceboundAddress is where a service client sends cloud-to-device messages.
	ServiceDeviceboundAddress = "/messages/devicebound"
	// DeviceboundSenderName names the service client's cloud-to-device link.
	DeviceboundSenderName = "devicebound_link"
)

// EventsAddress is the device-to-cloud target for deviceID.
func EventsAddress(deviceID string) string {
	return "/devices/" + deviceID + "/messages/events"
}

// DeviceboundAddress is the cloud-to-device source a device receives from.
func DeviceboundAddress(deviceID string) string {
	return "/devices/" + deviceID + "/messages/devicebound"
}

// NewEventMessage wraps body with a fresh message id.
func NewEventMessage(body []byte) *amqp.Message {
	msg := amqp.NewMessage(body)
	contentType := ContentTypeJSON
	msg.Properties = &amqp.MessageProperties{
		MessageID:   uuid.NewString(),
		ContentType: &contentType,
	}
	return msg
}

// NewDirectedMessage is an event addressed to one device through the
// service's devicebound endpoint.
func NewDirectedMessage(body []byte, deviceID string) *amqp.Message {
	msg := NewEventMessage(body)
	to := DeviceboundAddress(deviceID)
	msg.Properties.To = &to
	return msg
}
