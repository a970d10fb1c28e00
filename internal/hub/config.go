package hub

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/hublink/internal/sas"
)

const (
	// ReceiverCredit is the credit window granted on every receiver attach.
	ReceiverCredit int32 = 360
	// MaxMessageSize bounds payloads on every link this client attaches.
	MaxMessageSize uint64 = 65535

	DefaultTokenValidityDays = 1
	DefaultConnectTimeout    = 10 * time.Second
	DefaultLinkTimeout       = 5 * time.Second
	DefaultDisconnectTimeout = 5 * time.Second
)

// Config describes one client identity against one hub.
type Config struct {
	HubName string
	// Identity is the device id, or the policy name for a service client.
	Identity   string
	Flavor     sas.Flavor
	PrimaryKey string

	// Address and HostName default to the hub's public endpoint.
	Address  string
	HostName string
	TLS      *tls.Config

	TokenValidityDays int
	ConnectTimeout    time.Duration
	// LinkTimeout bounds every attach made while reattaching recovery records.
	LinkTimeout       time.Duration
	DisconnectTimeout time.Duration

	Now func() time.Time
}

func (c Config) WithDefaults() Config {
	out := c
	out.HubName = strings.TrimSpace(out.HubName)
	out.Identity = strings.TrimSpace(out.Identity)
	if out.Address == "" && out.HubName != "" {
		out.Address = sas.Address(out.HubName)
	}
	if out.HostName == "" && out.HubName != "" {
		out.HostName = sas.Hostname(out.HubName)
	}
	if out.TokenValidityDays <= 0 {
		out.TokenValidityDays = DefaultTokenValidityDays
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.LinkTimeout <= 0 {
		out.LinkTimeout = DefaultLinkTimeout
	}
	if out.DisconnectTimeout <= 0 {
		out.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

func (c Config) Validate() error {
	if c.HubName == "" {
		return fmt.Errorf("%w: hub name is required", ErrInvalidConfig)
	}
	if c.Identity == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidConfig)
	}
	if c.Flavor != sas.FlavorDevice && c.Flavor != sas.FlavorService {
		return fmt.Errorf("%w: unknown flavor %d", ErrInvalidConfig, c.Flavor)
	}
	return nil
}

func (c Config) username() string {
	if c.Flavor == sas.FlavorService {
		return sas.ServiceUsername(c.Identity, c.HubName)
	}
	return sas.DeviceUsername(c.Identity, c.HubName)
}

func (c Config) tokenRequest() sas.Request {
	return sas.Request{
		Hub:          c.HubName,
		Identity:     c.Identity,
		ValidityDays: c.TokenValidityDays,
		Flavor:       c.Flavor,
	}
}
