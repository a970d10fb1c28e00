package hub

import (
	"context"
	"time"

	"github.com/danmuck/hublink/internal/link"
	"github.com/danmuck/hublink/internal/observability"
	"github.com/danmuck/hublink/internal/transport"
)

// AttachSender opens a sender link named name to address on the live
// session and records it for recovery.
func (c *Client) AttachSender(ctx context.Context, name, address string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachSenderLocked(ctx, link.Record{Name: name, Address: address, Direction: link.DirectionSend}, timeout)
}

// AttachReceiver opens a receiver link named name from address with a
// credit window of ReceiverCredit and records it for recovery.
func (c *Client) AttachReceiver(ctx context.Context, name, address string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachReceiverLocked(ctx, link.Record{Name: name, Address: address, Direction: link.DirectionReceive}, timeout)
}

func (c *Client) attachSenderLocked(ctx context.Context, rec link.Record, timeout time.Duration) (err error) {
	defer func() { observability.RecordAttach(c.cfg.Identity, rec.Direction.String(), resultLabel(err)) }()

	if err := rec.Validate(); err != nil {
		return err
	}
	live := c.live
	if live == nil {
		return ErrNoSession
	}
	if _, ok := live.senders[rec.Name]; ok {
		return ErrLinkAlreadyActive
	}

	attachCtx, cancel := context.WithTimeout(ctx, timeout)
	snd, err := live.session.NewSender(attachCtx, rec.Address, transport.SenderOptions{
		Name:           rec.Name,
		MaxMessageSize: MaxMessageSize,
	})
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Str("link", rec.Name).Str("address", rec.Address).Msg("hub.Client.attachSender failed")
		return opError("attach sender "+rec.Name, err, ErrLinkCreateFailure)
	}

	live.senders[rec.Name] = snd
	if err := c.registry.PutSender(rec); err != nil {
		return err
	}
	c.logger.Debug().Str("link", rec.Name).Str("address", rec.Address).Msg("hub.Client.attachSender attached")
	return nil
}

func (c *Client) attachReceiverLocked(ctx context.Context, rec link.Record, timeout time.Duration) (err error) {
	defer func() { observability.RecordAttach(c.cfg.Identity, rec.Direction.String(), resultLabel(err)) }()

	if err := rec.Validate(); err != nil {
		return err
	}
	live := c.live
	if live == nil {
		return ErrNoSession
	}
	if h, ok := c.registry.ReceiverHandle(rec.Name); ok {
		if _, active := live.receivers[h]; active {
			return ErrLinkAlreadyActive
		}
	}

	attachCtx, cancel := context.WithTimeout(ctx, timeout)
	rcv, err := live.session.NewReceiver(attachCtx, rec.Address, transport.ReceiverOptions{
		Name:           rec.Name,
		Credit:         ReceiverCredit,
		MaxMessageSize: MaxMessageSize,
	})
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Str("link", rec.Name).Str("address", rec.Address).Msg("hub.Client.attachReceiver failed")
		return opError("attach receiver "+rec.Name, err, ErrLinkCreateFailure)
	}

	h := link.Handle(c.nextHandle.Add(1))
	live.receivers[h] = rcv
	if err := c.registry.PutReceiver(rec, h); err != nil {
		return err
	}
	c.logger.Debug().Str("link", rec.Name).Str("address", rec.Address).Uint32("handle", uint32(h)).Msg("hub.Client.attachReceiver attached")
	return nil
}

// ReceiverCredit reports the credit window of the live receiver named name.
func (c *Client) ReceiverCredit(name string) (int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return 0, false
	}
	h, ok := c.registry.ReceiverHandle(name)
	if !ok {
		return 0, false
	}
	rcv, ok := c.live.receivers[h]
	if !ok {
		return 0, false
	}
	return rcv.Credit(), true
}

// dropSenderLocked closes and forgets the live sender; its record stays.
func (c *Client) dropSenderLocked(ctx context.Context, name string) {
	live := c.live
	if live == nil {
		return
	}
	snd, ok := live.senders[name]
	if !ok {
		return
	}
	delete(live.senders, name)
	closeCtx, cancel := context.WithTimeout(ctx, c.cfg.LinkTimeout)
	defer cancel()
	if err := snd.Close(closeCtx); err != nil {
		c.logger.Debug().Err(err).Str("link", name).Msg("hub.Client.dropSender close")
	}
}

func (c *Client) dropReceiversLocked(ctx context.Context) {
	live := c.live
	if live == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(ctx, c.cfg.LinkTimeout)
	defer cancel()
	for h, rcv := range live.receivers {
		delete(live.receivers, h)
		if err := rcv.Close(closeCtx); err != nil {
			c.logger.Debug().Err(err).Uint32("handle", uint32(h)).Msg("hub.Client.dropReceivers close")
		}
	}
}
