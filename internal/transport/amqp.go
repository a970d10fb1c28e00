package transport

import (
	"context"

	"github.com/Azure/go-amqp"
)

// AMQPDialer dials real brokers with SASL PLAIN over TLS.
type AMQPDialer struct{}

func (AMQPDialer) Dial(ctx context.Context, addr string, opts ConnOptions) (Conn, error) {
	conn, err := amqp.Dial(ctx, addr, &amqp.ConnOptions{
		HostName:  opts.HostName,
		SASLType:  amqp.SASLTypePlain(opts.Username, opts.Password),
		TLSConfig: opts.TLSConfig,
	})
	if err != nil {
		return nil, err
	}
	return &amqpConn{conn: conn}, nil
}

type amqpConn struct {
	conn *amqp.Conn
}

func (c *amqpConn) NewSession(ctx context.Context) (Session, error) {
	s, err := c.conn.NewSession(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &amqpSession{session: s}, nil
}

func (c *amqpConn) Done() <-chan struct{} {
	return c.conn.Done()
}

func (c *amqpConn) Close() error {
	return c.conn.Close()
}

type amqpSession struct {
	session *amqp.Session
}

// NewSender attaches a sender. go-amqp negotiates the peer's max message size
// on attach, so opts.MaxMessageSize is enforced by the caller before Send.
func (s *amqpSession) NewSender(ctx context.Context, target string, opts SenderOptions) (Sender, error) {
	snd, err := s.session.NewSender(ctx, target, &amqp.SenderOptions{
		Name: opts.Name,
	})
	if err != nil {
		return nil, err
	}
	return &amqpSender{sender: snd}, nil
}

func (s *amqpSession) NewReceiver(ctx context.Context, source string, opts ReceiverOptions) (Receiver, error) {
	rcv, err := s.session.NewReceiver(ctx, source, &amqp.ReceiverOptions{
		Name:           opts.Name,
		Credit:         opts.Credit,
		MaxMessageSize: opts.MaxMessageSize,
	})
	if err != nil {
		return nil, err
	}
	return &amqpReceiver{receiver: rcv, credit: opts.Credit}, nil
}

func (s *amqpSession) Close(ctx context.Context) error {
	return s.session.Close(ctx)
}

type amqpSender struct {
	sender *amqp.Sender
}

func (s *amqpSender) Send(ctx context.Context, msg *amqp.Message) error {
	return s.sender.Send(ctx, msg, nil)
}

func (s *amqpSender) Close(ctx context.Context) error {
	return s.sender.Close(ctx)
}

type amqpReceiver struct {
	receiver *amqp.Receiver
	credit   int32
}

func (r *amqpReceiver) Receive(ctx context.Context) (*amqp.Message, error) {
	return r.receiver.Receive(ctx, nil)
}

func (r *amqpReceiver) Accept(ctx context.Context, msg *amqp.Message) error {
	return r.receiver.AcceptMessage(ctx, msg)
}

func (r *amqpReceiver) Credit() int32 {
	return r.credit
}

func (r *amqpReceiver) Close(ctx context.Context) error {
	return r.receiver.Close(ctx)
}
