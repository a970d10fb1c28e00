package device

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/hublink/internal/hub"
	"github.com/danmuck/hublink/internal/retry"
	"github.com/danmuck/hublink/internal/sas"
	"github.com/danmuck/hublink/internal/sensor"
	"github.com/danmuck/hublink/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDeviceIDRequired  = errors.New("device: device_id required")
	ErrInvalidInterval   = errors.New("device: invalid interval")
	ErrLinkNameRequired  = errors.New("device: link names required")
	ErrSensorUnavailable = errors.New("device: sensor unavailable")
)

// ServiceConfig configures the device runtime.
type ServiceConfig struct {
	DeviceID          string
	HubName           string
	PrimaryKey        string
	TLS               *tls.Config
	Address           string
	TokenValidityDays int
	TokenRenewBefore  time.Duration

	SensorKind string
	SensorName string
	SensorPath string

	ActionName      string
	ActionValuePath string
	ActionHold      time.Duration

	SampleInterval    time.Duration
	PollTimeout       time.Duration
	HealthWindow      time.Duration
	SendTimeout       time.Duration
	LinkTimeout       time.Duration
	DisconnectTimeout time.Duration

	SenderLink   string
	ReceiverLink string

	AdminListenAddr  string
	AdminCORSOrigins []string
	// AdminToken, when set, guards /links and /metrics. The device's own
	// SAS tokens are accepted as well.
	AdminToken string

	Backoff retry.BackoffConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		TokenValidityDays: 1,
		TokenRenewBefore:  time.Hour,
		SensorKind:        sensor.KindSimulated,
		SensorName:        "temperature",
		SensorPath:        "/sys/class/thermal/thermal_zone0/temp",
		ActionName:        "test",
		ActionHold:        2 * time.Second,
		SampleInterval:    20 * time.Second,
		PollTimeout:       2 * time.Second,
		HealthWindow:      100 * time.Millisecond,
		SendTimeout:       10 * time.Second,
		LinkTimeout:       hub.DefaultLinkTimeout,
		DisconnectTimeout: hub.DefaultDisconnectTimeout,
		SenderLink:        "sender_link_global",
		ReceiverLink:      "recv_link_global",
		Backoff:           retry.DefaultBackoff(),
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return ErrDeviceIDRequired
	}
	if c.SampleInterval <= 0 || c.PollTimeout <= 0 || c.SendTimeout <= 0 {
		return fmt.Errorf("%w: sample=%s poll=%s send=%s", ErrInvalidInterval, c.SampleInterval, c.PollTimeout, c.SendTimeout)
	}
	if strings.TrimSpace(c.SenderLink) == "" || strings.TrimSpace(c.ReceiverLink) == "" {
		return ErrLinkNameRequired
	}
	// A renewal window as long as the token would reconnect every cycle.
	days := c.TokenValidityDays
	if days <= 0 {
		days = hub.DefaultTokenValidityDays
	}
	if validity := time.Duration(days) * 24 * time.Hour; c.TokenRenewBefore < 0 || c.TokenRenewBefore >= validity {
		return fmt.Errorf("%w: token_renew_before=%s must be shorter than validity %s", ErrInvalidInterval, c.TokenRenewBefore, validity)
	}
	return nil
}

// Option customizes a Service at construction.
type Option func(*Service)

// WithDialer replaces the go-amqp dialer.
func WithDialer(d transport.Dialer) Option {
	return func(s *Service) { s.dialer = d }
}

func WithSensor(sn sensor.Sensor) Option {
	return func(s *Service) { s.sensor = sn }
}

func WithActuator(a sensor.Actuator) Option {
	return func(s *Service) { s.actuator = a }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service samples a sensor, publishes readings, executes cloud-to-device
// commands and keeps the hub session alive.
type Service struct {
	cfg      ServiceConfig
	dialer   transport.Dialer
	client   *hub.Client
	sensor   sensor.Sensor
	actuator sensor.Actuator
	backoff  *retry.Backoff
	logger   zerolog.Logger
	now      func() time.Time
	started  time.Time

	sent       atomic.Uint64
	received   atomic.Uint64
	recoveries atomic.Uint64
	ready      atomic.Bool
}

func NewService(cfg ServiceConfig, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, logger: log.Logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("device_id", cfg.DeviceID).Logger()

	if s.sensor == nil {
		sn, err := sensor.New(cfg.SensorKind, cfg.SensorName, cfg.SensorPath)
		if err != nil {
			return nil, err
		}
		s.sensor = sn
	}
	if s.actuator == nil && strings.TrimSpace(cfg.ActionValuePath) != "" {
		s.actuator = sensor.Pulse{Action: cfg.ActionName, ValuePath: cfg.ActionValuePath, Hold: cfg.ActionHold}
	}

	client, err := hub.New(hub.Config{
		HubName:           cfg.HubName,
		Identity:          cfg.DeviceID,
		Flavor:            sas.FlavorDevice,
		PrimaryKey:        cfg.PrimaryKey,
		Address:           cfg.Address,
		TLS:               cfg.TLS,
		TokenValidityDays: cfg.TokenValidityDays,
		LinkTimeout:       cfg.LinkTimeout,
		DisconnectTimeout: cfg.DisconnectTimeout,
		Now:               s.now,
	}, s.dialer, s.logger.With().Str("component", "hub").Logger())
	if err != nil {
		return nil, err
	}
	s.client = client
	s.backoff = retry.New(cfg.Backoff, rand.New(rand.NewSource(s.now().UnixNano())))
	return s, nil
}

// Client exposes the hub client for status reporting.
func (s *Service) Client() *hub.Client {
	return s.client
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext bootstraps and serves until ctx ends.
func (s *Service) RunContext(ctx context.Context) error {
	s.started = s.now()
	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	return s.serve(ctx)
}

// bootstrap connects and attaches the event sender and devicebound receiver.
func (s *Service) bootstrap(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	if err := s.client.AttachSender(ctx, s.cfg.SenderLink, hub.EventsAddress(s.cfg.DeviceID), s.cfg.LinkTimeout); err != nil {
		s.shutdown()
		return err
	}
	if err := s.client.AttachReceiver(ctx, s.cfg.ReceiverLink, receiverAddress(s.cfg.DeviceID), s.cfg.LinkTimeout); err != nil {
		s.shutdown()
		return err
	}
	s.ready.Store(true)
	s.logger.Info().
		Str("hub", s.cfg.HubName).
		Str("sensor", s.sensor.Name()).
		Dur("sample_interval", s.cfg.SampleInterval).
		Msg("device.Service.bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	defer s.shutdown()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adminErr <- s.serveAdmin(ctx, s.cfg.AdminListenAddr)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("device.Service.serve shutdown")
			return nil
		case err := <-adminErr:
			if err != nil {
				return err
			}
		default:
		}

		if err := s.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info().Msg("device.Service.serve shutdown")
				return nil
			}
			return err
		}
	}
}

// cycle runs one sample window: renew, sample and send, then poll for
// commands until the next sample is due.
func (s *Service) cycle(ctx context.Context) error {
	windowEnd := s.now().Add(s.cfg.SampleInterval)

	if s.client.Credential().ExpiresWithin(s.cfg.TokenRenewBefore, s.now()) {
		if err := s.recoverSession(ctx, errors.New("credential renewal due")); err != nil {
			return err
		}
	}

	if err := s.sendSample(ctx); err != nil {
		if errors.Is(err, ErrSensorUnavailable) {
			s.logger.Warn().Err(err).Msg("device.Service.cycle sample skipped")
		} else if err := s.recoverSession(ctx, err); err != nil {
			return err
		}
	}

	for s.now().Before(windowEnd) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.pollOnce(ctx); err != nil {
			if err := s.recoverSession(ctx, err); err != nil {
				return err
			}
			continue
		}
		if err := s.client.AwaitSessionHealth(ctx, s.cfg.HealthWindow); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.recoverSession(ctx, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) sendSample(ctx context.Context) error {
	value, err := s.sensor.Read(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
	}
	body, err := json.Marshal(sensor.Reading{Sensor: s.sensor.Name(), Value: value})
	if err != nil {
		return err
	}
	if err := s.client.Send(ctx, s.cfg.SenderLink, body, s.cfg.SendTimeout); err != nil {
		s.logger.Warn().Err(err).Str("link", s.cfg.SenderLink).Msg("device.Service.sendSample failed")
		return err
	}
	s.sent.Add(1)
	s.logger.Debug().Float64("value", value).Str("sensor", s.sensor.Name()).Msg("device.Service.sendSample ok")
	return nil
}

// pollOnce waits up to the poll timeout for one command. An empty poll is
// not an error.
func (s *Service) pollOnce(ctx context.Context) error {
	d, err := s.client.ReceiveNext(ctx, s.cfg.ReceiverLink, s.cfg.PollTimeout)
	if errors.Is(err, hub.ErrNoMessage) {
		return nil
	}
	if err != nil {
		return err
	}
	s.received.Add(1)
	s.handleCommand(ctx, d.Body())
	if err := d.Accept(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("device.Service.pollOnce accept failed")
	}
	return nil
}

func (s *Service) handleCommand(ctx context.Context, body []byte) {
	cmd, ok := DecodeCommand(body)
	if !ok {
		s.logger.Info().Str("body", string(body)).Msg("device.Service.command text")
		return
	}
	event := s.logger.Info().Str("action", cmd.Action).Str("sensor", cmd.Sensor)
	if cmd.Value != nil {
		event = event.Float64("value", *cmd.Value)
	}
	event.Msg("device.Service.command")

	if cmd.Action == "" || s.actuator == nil {
		return
	}
	if err := s.actuator.Trigger(ctx, cmd.Action); err != nil {
		s.logger.Warn().Err(err).Str("action", cmd.Action).Msg("device.Service.command actuator failed")
	}
}

// recoverSession rebuilds the session and links, retrying with backoff until it
// succeeds or ctx ends.
func (s *Service) recoverSession(ctx context.Context, cause error) error {
	s.ready.Store(false)
	s.logger.Warn().Err(cause).Msg("device.Service.recover start")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		report, err := s.client.RecoverAll(ctx)
		if err == nil && report.OK() {
			s.backoff.Reset()
			s.recoveries.Add(1)
			s.ready.Store(true)
			s.logger.Info().Uint64("recoveries", s.recoveries.Load()).Msg("device.Service.recover ok")
			return nil
		}
		if err == nil {
			err = report.Err()
		}
		delay := s.backoff.Next()
		s.logger.Warn().
			Err(err).
			Int("attempt", s.backoff.Attempt()).
			Dur("retry_in", delay).
			Msg("device.Service.recover failed")
		if err := retry.Wait(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Service) shutdown() {
	s.ready.Store(false)
	err := s.client.Disconnect(context.Background(), s.cfg.DisconnectTimeout)
	if err != nil && !errors.Is(err, hub.ErrNoSession) {
		s.logger.Warn().Err(err).Msg("device.Service.shutdown disconnect failed")
	}
}

// Stats is a snapshot of runtime counters.
type Stats struct {
	Sent       uint64 `json:"sent"`
	Received   uint64 `json:"received"`
	Recoveries uint64 `json:"recoveries"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Sent:       s.sent.Load(),
		Received:   s.received.Load(),
		Recoveries: s.recoveries.Load(),
	}
}

// Ready reports whether the device is connected with its links attached.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// receiverAddress is the devicebound source as the hub expects it on attach,
// without the leading slash.
func receiverAddress(deviceID string) string {
	return strings.TrimPrefix(hub.DeviceboundAddress(deviceID), "/")
}
