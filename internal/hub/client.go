// Package hub is the device-side AMQP 1.0 client for an IoT hub.
//
// A Client owns at most one live session at a time. Links attached on it are
// recorded in a link.Registry so that Recover plus the Reattach calls can
// rebuild the same topology on a fresh session after the service drops the
// connection. Every blocking call takes a context and an explicit timeout.
package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/hublink/internal/link"
	"github.com/danmuck/hublink/internal/observability"
	"github.com/danmuck/hublink/internal/sas"
	"github.com/danmuck/hublink/internal/transport"
	"github.com/rs/zerolog"
)

// Client is safe for concurrent use. Operations that touch the session are
// serialized; Status and AwaitSessionHealth never wait behind them.
type Client struct {
	cfg      Config
	username string
	dialer   transport.Dialer
	signer   *sas.Signer
	registry *link.Registry
	logger   zerolog.Logger

	// mu serializes session operations.
	mu         sync.Mutex
	nextHandle atomic.Uint32

	// stateMu guards the fields read by Status.
	stateMu    sync.RWMutex
	live       *liveSession
	credential sas.Credential
}

// liveSession bundles everything that only exists while connected.
type liveSession struct {
	conn        transport.Conn
	session     transport.Session
	supervisor  *supervisor
	senders     map[string]transport.Sender
	receivers   map[link.Handle]transport.Receiver
	connectedAt time.Time
}

// Status is a point-in-time view of the client.
type Status struct {
	Hub                 string        `json:"hub"`
	Identity            string        `json:"identity"`
	Flavor              string        `json:"flavor"`
	Connected           bool          `json:"connected"`
	ConnectedAt         time.Time     `json:"connected_at,omitempty"`
	CredentialExpiresAt time.Time     `json:"credential_expires_at"`
	Senders             []link.Record `json:"senders"`
	Receivers           []link.Record `json:"receivers"`
	Handles             []link.Handle `json:"handles"`
}

// New validates cfg and mints the first credential. A nil dialer uses go-amqp.
func New(cfg Config, dialer transport.Dialer, logger zerolog.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	signer, err := sas.NewSigner(cfg.PrimaryKey, cfg.Now)
	if err != nil {
		return nil, err
	}
	cred, err := signer.Sign(cfg.tokenRequest())
	if err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = transport.AMQPDialer{}
	}

	c := &Client{
		cfg:      cfg,
		username: cfg.username(),
		dialer:   dialer,
		signer:   signer,
		registry: link.NewRegistry(),
		logger: logger.With().
			Str("hub", cfg.HubName).
			Str("identity", cfg.Identity).
			Logger(),
		credential: cred,
	}
	observability.SetCredentialExpiry(cfg.Identity, cred.ExpiresAt)
	observability.SetConnected(cfg.Identity, false)
	return c, nil
}

func (c *Client) Identity() string {
	return c.cfg.Identity
}

// Credential returns the credential the next connect will present.
func (c *Client) Credential() sas.Credential {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.credential
}

// UpdateCredential replaces the stored credential. It does not reconnect.
func (c *Client) UpdateCredential(cred sas.Credential) {
	c.stateMu.Lock()
	c.credential = cred
	c.stateMu.Unlock()
	observability.SetCredentialExpiry(c.cfg.Identity, cred.ExpiresAt)
	c.logger.Debug().Time("expires_at", cred.ExpiresAt).Msg("hub.Client.UpdateCredential credential updated")
}

// RenewCredential signs a fresh credential with the configured secret and stores it.
func (c *Client) RenewCredential() (sas.Credential, error) {
	cred, err := c.signer.Sign(c.cfg.tokenRequest())
	if err != nil {
		return sas.Credential{}, fmt.Errorf("hub: renew credential: %w", err)
	}
	c.UpdateCredential(cred)
	return cred, nil
}

// Connected reports whether a session is live. A session the transport has
// already ended reports false even before Recover or Disconnect runs.
func (c *Client) Connected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.live.usable()
}

func (l *liveSession) usable() bool {
	return l != nil && !l.supervisor.ended(l.conn)
}

func (c *Client) Status() Status {
	c.stateMu.RLock()
	st := Status{
		Hub:                 c.cfg.HubName,
		Identity:            c.cfg.Identity,
		Flavor:              c.cfg.Flavor.String(),
		Connected:           c.live.usable(),
		CredentialExpiresAt: c.credential.ExpiresAt,
	}
	if c.live != nil {
		st.ConnectedAt = c.live.connectedAt
	}
	c.stateMu.RUnlock()

	st.Senders = c.registry.Senders()
	st.Receivers = c.registry.Receivers()
	st.Handles = c.registry.Handles()
	return st
}

// Connect dials the hub with the stored credential and begins a session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.live != nil {
		return ErrAlreadyActive
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	cred := c.Credential()
	conn, err := c.dialer.Dial(dialCtx, c.cfg.Address, transport.ConnOptions{
		HostName:  c.cfg.HostName,
		Username:  c.username,
		Password:  cred.Token,
		TLSConfig: c.cfg.TLS,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("addr", c.cfg.Address).Msg("hub.Client.connect dial failed")
		return fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}

	session, err := conn.NewSession(dialCtx)
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			c.logger.Debug().Err(closeErr).Msg("hub.Client.connect close after failed session begin")
		}
		c.logger.Warn().Err(err).Msg("hub.Client.connect session begin failed")
		return fmt.Errorf("%w: %v", ErrSessionFailure, err)
	}

	live := &liveSession{
		conn:        conn,
		session:     session,
		supervisor:  startSupervisor(conn, c.cfg.Identity, c.logger),
		senders:     make(map[string]transport.Sender),
		receivers:   make(map[link.Handle]transport.Receiver),
		connectedAt: c.cfg.Now(),
	}
	c.setLive(live)
	observability.SetConnected(c.cfg.Identity, true)
	c.logger.Info().Str("addr", c.cfg.Address).Msg("hub.Client.connect session active")
	return nil
}

// Disconnect ends the session within timeout. Local session state is
// discarded even when the close fails, so Connect may follow either way.
func (c *Client) Disconnect(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectLocked(ctx, timeout)
}

func (c *Client) disconnectLocked(ctx context.Context, timeout time.Duration) error {
	live := c.live
	if live == nil {
		return ErrNoSession
	}
	// A connection the transport already ended cannot close its session
	// cleanly; the close would only report the error that ended it.
	ended := live.supervisor.ended(live.conn)
	live.supervisor.shutdown()

	var err error
	if !ended {
		closeCtx, cancel := context.WithTimeout(ctx, timeout)
		err = live.session.Close(closeCtx)
		cancel()
	}
	if connErr := live.conn.Close(); connErr != nil {
		c.logger.Debug().Err(connErr).Bool("ended", ended).Msg("hub.Client.disconnect connection close")
	}

	c.setLive(nil)
	observability.SetConnected(c.cfg.Identity, false)

	if err != nil {
		c.logger.Warn().Err(err).Msg("hub.Client.disconnect session close failed")
		return opError("session close", err, ErrProtocol)
	}
	c.logger.Info().Bool("ended", ended).Msg("hub.Client.disconnect session closed")
	return nil
}

// AwaitSessionHealth waits up to timeout for the session to fail. A nil
// return means the session stayed up for the whole window.
func (c *Client) AwaitSessionHealth(ctx context.Context, timeout time.Duration) error {
	c.stateMu.RLock()
	live := c.live
	c.stateMu.RUnlock()
	if live == nil {
		return ErrNoDispatcher
	}
	return live.supervisor.await(ctx, timeout)
}

func (c *Client) setLive(live *liveSession) {
	c.stateMu.Lock()
	c.live = live
	c.stateMu.Unlock()
}
