// Package transporttest provides an in-memory broker that implements the
// transport contract, with switches for the failure modes a device sees in
// the field: rejected credentials, attaches and sends that never complete,
// rejected dispositions and connections dropped by the service.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/danmuck/hublink/internal/transport"
)

var ErrLinkClosed = errors.New("transporttest: link closed")

// Broker is safe for concurrent use.
type Broker struct {
	mu sync.Mutex

	authErr            error
	sessionErr         error
	hangSenderAttach   map[string]bool
	failSenderAttach   map[string]error
	hangReceiverAttach map[string]bool
	failReceiverAttach map[string]error
	hangSend           bool
	rejectSend         error
	hangSessionClose   bool
	failSessionClose   error

	dials     int
	abandoned int
	lastOpts  transport.ConnOptions
	conns     []*Conn
	receivers []*Receiver
	sent      map[string][]*amqp.Message
	queues    map[string]chan *amqp.Message
}

func NewBroker() *Broker {
	return &Broker{
		hangSenderAttach:   make(map[string]bool),
		failSenderAttach:   make(map[string]error),
		hangReceiverAttach: make(map[string]bool),
		failReceiverAttach: make(map[string]error),
		sent:               make(map[string][]*amqp.Message),
		queues:             make(map[string]chan *amqp.Message),
	}
}

// RejectAuth makes every following Dial fail with err; nil restores dialing.
func (b *Broker) RejectAuth(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authErr = err
}

// FailSession makes NewSession fail with err.
func (b *Broker) FailSession(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionErr = err
}

// HangSenderAttach makes attaches of the named sender block until their context ends.
func (b *Broker) HangSenderAttach(name string, hang bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hangSenderAttach[name] = hang
}

// FailSenderAttach makes attaches of the named sender fail with err.
func (b *Broker) FailSenderAttach(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSenderAttach[name] = err
}

func (b *Broker) HangReceiverAttach(name string, hang bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hangReceiverAttach[name] = hang
}

func (b *Broker) FailReceiverAttach(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failReceiverAttach[name] = err
}

// HangSend makes sends block until their context ends.
func (b *Broker) HangSend(hang bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hangSend = hang
}

// RejectSend makes sends settle with err, as a rejected disposition does.
func (b *Broker) RejectSend(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectSend = err
}

func (b *Broker) HangSessionClose(hang bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hangSessionClose = hang
}

func (b *Broker) FailSessionClose(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSessionClose = err
}

// Deliver queues msg for receivers attached to source.
func (b *Broker) Deliver(source string, msg *amqp.Message) {
	b.queue(source) <- msg
}

// Sent returns messages accepted on target.
func (b *Broker) Sent(target string) []*amqp.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*amqp.Message, len(b.sent[target]))
	copy(out, b.sent[target])
	return out
}

// Dials counts Dial calls, failed ones included.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Abandoned counts operations that ended because their context expired.
func (b *Broker) Abandoned() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.abandoned
}

// LastOptions returns the options of the most recent Dial.
func (b *Broker) LastOptions() transport.ConnOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastOpts
}

// Receivers returns every receiver ever attached, in attach order.
func (b *Broker) Receivers() []*Receiver {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Receiver, len(b.receivers))
	copy(out, b.receivers)
	return out
}

// LastConn returns the most recent connection, or nil.
func (b *Broker) LastConn() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

// Kill ends the most recent connection with err, as a service-side drop does.
func (b *Broker) Kill(err error) {
	if c := b.LastConn(); c != nil {
		c.end(err)
	}
}

func (b *Broker) Dial(ctx context.Context, addr string, opts transport.ConnOptions) (transport.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	b.lastOpts = opts
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.authErr != nil {
		return nil, b.authErr
	}
	c := &Conn{broker: b, addr: addr, done: make(chan struct{})}
	b.conns = append(b.conns, c)
	return c, nil
}

func (b *Broker) queue(source string) chan *amqp.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[source]
	if !ok {
		q = make(chan *amqp.Message, 1024)
		b.queues[source] = q
	}
	return q
}

// wait blocks until ctx ends or the connection drops, counting abandonment.
func (b *Broker) wait(ctx context.Context, c *Conn) error {
	select {
	case <-ctx.Done():
		b.mu.Lock()
		b.abandoned++
		b.mu.Unlock()
		return ctx.Err()
	case <-c.done:
		return ErrLinkClosed
	}
}

// Conn is a fake connection.
type Conn struct {
	broker *Broker
	addr   string

	once sync.Once
	done chan struct{}
	err  error
}

func (c *Conn) Addr() string {
	return c.addr
}

func (c *Conn) NewSession(ctx context.Context) (transport.Session, error) {
	c.broker.mu.Lock()
	err := c.broker.sessionErr
	c.broker.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if c.closed() {
		return nil, ErrLinkClosed
	}
	return &Session{conn: c}, nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	c.end(nil)
	return c.err
}

func (c *Conn) end(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Conn) endErr() error {
	<-c.done
	return c.err
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Session is a fake session.
type Session struct {
	conn *Conn
}

func (s *Session) NewSender(ctx context.Context, target string, opts transport.SenderOptions) (transport.Sender, error) {
	b := s.conn.broker
	b.mu.Lock()
	hang := b.hangSenderAttach[opts.Name]
	fail := b.failSenderAttach[opts.Name]
	b.mu.Unlock()
	if s.conn.closed() {
		return nil, ErrLinkClosed
	}
	if hang {
		return nil, b.wait(ctx, s.conn)
	}
	if fail != nil {
		return nil, fail
	}
	return &Sender{conn: s.conn, target: target, name: opts.Name}, nil
}

func (s *Session) NewReceiver(ctx context.Context, source string, opts transport.ReceiverOptions) (transport.Receiver, error) {
	b := s.conn.broker
	b.mu.Lock()
	hang := b.hangReceiverAttach[opts.Name]
	fail := b.failReceiverAttach[opts.Name]
	b.mu.Unlock()
	if s.conn.closed() {
		return nil, ErrLinkClosed
	}
	if hang {
		return nil, b.wait(ctx, s.conn)
	}
	if fail != nil {
		return nil, fail
	}
	r := &Receiver{
		conn:   s.conn,
		source: source,
		name:   opts.Name,
		credit: opts.Credit,
		queue:  b.queue(source),
	}
	b.mu.Lock()
	b.receivers = append(b.receivers, r)
	b.mu.Unlock()
	return r, nil
}

// Close fails with the error that ended the connection once it is gone, as
// go-amqp does.
func (s *Session) Close(ctx context.Context) error {
	if s.conn.closed() {
		if err := s.conn.endErr(); err != nil {
			return err
		}
		return ErrLinkClosed
	}
	b := s.conn.broker
	b.mu.Lock()
	hang := b.hangSessionClose
	fail := b.failSessionClose
	b.mu.Unlock()
	if hang {
		return b.wait(ctx, s.conn)
	}
	return fail
}

// Sender is a fake sender link.
type Sender struct {
	conn   *Conn
	target string
	name   string

	mu     sync.Mutex
	closed bool
}

func (s *Sender) Send(ctx context.Context, msg *amqp.Message) error {
	b := s.conn.broker
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.conn.closed() {
		return ErrLinkClosed
	}
	b.mu.Lock()
	hang := b.hangSend
	reject := b.rejectSend
	b.mu.Unlock()
	if hang {
		return b.wait(ctx, s.conn)
	}
	if reject != nil {
		return reject
	}
	b.mu.Lock()
	b.sent[s.target] = append(b.sent[s.target], msg)
	b.mu.Unlock()
	return nil
}

func (s *Sender) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Receiver is a fake receiver link.
type Receiver struct {
	conn   *Conn
	source string
	name   string
	credit int32
	queue  chan *amqp.Message

	mu       sync.Mutex
	closed   bool
	accepted int
}

func (r *Receiver) Name() string {
	return r.name
}

func (r *Receiver) Source() string {
	return r.source
}

func (r *Receiver) Receive(ctx context.Context) (*amqp.Message, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed || r.conn.closed() {
		return nil, ErrLinkClosed
	}
	select {
	case msg := <-r.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.conn.done:
		return nil, ErrLinkClosed
	}
}

func (r *Receiver) Accept(ctx context.Context, msg *amqp.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted++
	return nil
}

// Accepted counts settled deliveries.
func (r *Receiver) Accepted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted
}

func (r *Receiver) Credit() int32 {
	return r.credit
}

func (r *Receiver) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
