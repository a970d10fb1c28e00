package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/danmuck/hublink/internal/link"
	"github.com/danmuck/hublink/internal/observability"
	"github.com/danmuck/hublink/internal/transport"
)

// Delivery is one received message that has not been settled yet.
type Delivery struct {
	Link    string
	Handle  link.Handle
	Message *amqp.Message

	receiver transport.Receiver
}

// Body returns the first data section.
func (d *Delivery) Body() []byte {
	if d == nil || d.Message == nil {
		return nil
	}
	return d.Message.GetData()
}

// Accept settles the delivery as accepted.
func (d *Delivery) Accept(ctx context.Context) error {
	if err := d.receiver.Accept(ctx, d.Message); err != nil {
		return opError("accept "+d.Link, err, ErrProtocol)
	}
	return nil
}

// Send wraps body in an event message and sends it on the named sender link.
func (c *Client) Send(ctx context.Context, name string, body []byte, timeout time.Duration) error {
	return c.SendMessage(ctx, name, NewEventMessage(body), timeout)
}

// SendMessage sends msg on the named sender link and waits for settlement.
// A send that times out releases the live link; its record stays so the
// next reattach restores it.
func (c *Client) SendMessage(ctx context.Context, name string, msg *amqp.Message, timeout time.Duration) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	defer func() { observability.RecordSend(c.cfg.Identity, name, resultLabel(err), time.Since(start)) }()

	live := c.live
	if live == nil {
		return ErrNoSession
	}
	snd, ok := live.senders[name]
	if !ok {
		return ErrLinkDetached
	}
	if size := uint64(len(msg.GetData())); size > MaxMessageSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrProtocol, size, MaxMessageSize)
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	err = snd.Send(sendCtx, msg)
	cancel()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn().Str("link", name).Dur("timeout", timeout).Msg("hub.Client.SendMessage timed out, releasing link")
		c.dropSenderLocked(ctx, name)
	}
	return opError("send "+name, err, ErrProtocol)
}

// ReceiveNext waits up to timeout for a delivery on the named receiver link.
func (c *Client) ReceiveNext(ctx context.Context, name string, timeout time.Duration) (*Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.registry.ReceiverHandle(name)
	if !ok {
		observability.RecordReceive(c.cfg.Identity, name, resultLabel(ErrLinkDetached))
		return nil, ErrLinkDetached
	}
	return c.receiveLocked(ctx, name, h, timeout)
}

// ReceiveAt is ReceiveNext addressed by attach position instead of name.
func (c *Client) ReceiveAt(ctx context.Context, index int, timeout time.Duration) (*Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.registry.HandleAt(index)
	if !ok {
		return nil, ErrLinkDetached
	}
	name := fmt.Sprintf("#%d", index)
	for _, rec := range c.registry.Receivers() {
		if got, ok := c.registry.ReceiverHandle(rec.Name); ok && got == h {
			name = rec.Name
			break
		}
	}
	return c.receiveLocked(ctx, name, h, timeout)
}

func (c *Client) receiveLocked(ctx context.Context, name string, h link.Handle, timeout time.Duration) (d *Delivery, err error) {
	defer func() { observability.RecordReceive(c.cfg.Identity, name, resultLabel(err)) }()

	live := c.live
	if live == nil {
		return nil, ErrNoSession
	}
	rcv, ok := live.receivers[h]
	if !ok {
		return nil, ErrLinkDetached
	}

	recvCtx, cancel := context.WithTimeout(ctx, timeout)
	msg, err := rcv.Receive(recvCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrNoMessage
		}
		return nil, opError("receive "+name, err, ErrProtocol)
	}
	return &Delivery{Link: name, Handle: h, Message: msg, receiver: rcv}, nil
}
