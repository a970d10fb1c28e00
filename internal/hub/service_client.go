package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/hublink/internal/sas"
	"github.com/danmuck/hublink/internal/transport"
	"github.com/rs/zerolog"
)

// ServiceClient is a Client authenticated with a shared access policy. It
// sends cloud-to-device messages through the hub's devicebound endpoint.
type ServiceClient struct {
	*Client
}

// NewServiceClient builds a client whose Identity is the policy name.
func NewServiceClient(cfg Config, dialer transport.Dialer, logger zerolog.Logger) (*ServiceClient, error) {
	cfg.Flavor = sas.FlavorService
	c, err := New(cfg, dialer, logger.With().Str("role", "service").Logger())
	if err != nil {
		return nil, err
	}
	return &ServiceClient{Client: c}, nil
}

// SendToDevice attaches the devicebound sender when needed and sends body
// addressed to deviceID.
func (s *ServiceClient) SendToDevice(ctx context.Context, deviceID string, body []byte, timeout time.Duration) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidConfig)
	}
	err := s.AttachSender(ctx, DeviceboundSenderName, ServiceDeviceboundAddress, timeout)
	if err != nil && !errors.Is(err, ErrLinkAlreadyActive) {
		return err
	}
	return s.SendMessage(ctx, DeviceboundSenderName, NewDirectedMessage(body, deviceID), timeout)
}
