package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/hublink/internal/observability"
)

// RecoveryReport lists the records a RecoverAll pass could not reattach.
type RecoveryReport struct {
	SenderFailures   []LinkFailure
	ReceiverFailures []LinkFailure
}

func (r RecoveryReport) OK() bool {
	return len(r.SenderFailures) == 0 && len(r.ReceiverFailures) == 0
}

// Err joins every failure, or returns nil.
func (r RecoveryReport) Err() error {
	var errs []error
	for _, f := range r.SenderFailures {
		errs = append(errs, f)
	}
	for _, f := range r.ReceiverFailures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Recover tears down whatever session exists, renews the credential and
// connects again. Links are not reattached; see RecoverAll.
//
// When the disconnect fails the local session is still discarded and
// ErrDisconnectFailure is returned, so a following Recover goes straight to
// connecting.
func (c *Client) Recover(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { observability.RecordRecovery(c.cfg.Identity, resultLabel(err)) }()
	return c.recoverLocked(ctx)
}

func (c *Client) recoverLocked(ctx context.Context) error {
	if c.live != nil {
		if err := c.disconnectLocked(ctx, c.cfg.DisconnectTimeout); err != nil {
			c.logger.Error().Err(err).Msg("hub.Client.recover disconnect failed")
			return fmt.Errorf("%w: %v", ErrDisconnectFailure, err)
		}
	}

	cred, err := c.signer.Sign(c.cfg.tokenRequest())
	if err != nil {
		return fmt.Errorf("hub: renew credential: %w", err)
	}
	c.UpdateCredential(cred)

	if err := c.connectLocked(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("hub.Client.recover connect failed")
		return err
	}
	c.logger.Info().Time("credential_expires_at", cred.ExpiresAt).Msg("hub.Client.recover session recovered")
	return nil
}

// ReattachSenderLinks attaches every recorded sender that is not live, each
// bounded by the configured link timeout. Failed records are kept.
func (c *Client) ReattachSenderLinks(ctx context.Context) []LinkFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reattachSendersLocked(ctx)
}

func (c *Client) reattachSendersLocked(ctx context.Context) []LinkFailure {
	var failures []LinkFailure
	for _, rec := range c.registry.Senders() {
		err := c.attachSenderLocked(ctx, rec, c.cfg.LinkTimeout)
		if err == nil || errors.Is(err, ErrLinkAlreadyActive) {
			continue
		}
		c.logger.Warn().Err(err).Str("link", rec.Name).Msg("hub.Client.reattachSenders failed")
		failures = append(failures, LinkFailure{Record: rec, Err: err})
	}
	return failures
}

// ReattachReceiverLinks drops every receiver handle and attaches each
// recorded receiver again, so handles issued before the call are never
// valid after it. Failed records are kept.
func (c *Client) ReattachReceiverLinks(ctx context.Context) []LinkFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reattachReceiversLocked(ctx)
}

func (c *Client) reattachReceiversLocked(ctx context.Context) []LinkFailure {
	c.dropReceiversLocked(ctx)
	c.registry.ResetHandles()

	var failures []LinkFailure
	for _, rec := range c.registry.Receivers() {
		if err := c.attachReceiverLocked(ctx, rec, c.cfg.LinkTimeout); err != nil {
			c.logger.Warn().Err(err).Str("link", rec.Name).Msg("hub.Client.reattachReceivers failed")
			failures = append(failures, LinkFailure{Record: rec, Err: err})
		}
	}
	return failures
}

// RecoverAll runs Recover and then reattaches senders and receivers. The
// error is the Recover error; link failures are in the report.
func (c *Client) RecoverAll(ctx context.Context) (report RecoveryReport, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { observability.RecordRecovery(c.cfg.Identity, resultLabel(err)) }()

	if err := c.recoverLocked(ctx); err != nil {
		return RecoveryReport{}, err
	}
	report.SenderFailures = c.reattachSendersLocked(ctx)
	report.ReceiverFailures = c.reattachReceiversLocked(ctx)
	if !report.OK() {
		c.logger.Warn().
			Int("sender_failures", len(report.SenderFailures)).
			Int("receiver_failures", len(report.ReceiverFailures)).
			Msg("hub.Client.RecoverAll links left detached")
	}
	return report, nil
}
