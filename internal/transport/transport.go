// Package transport is the boundary between the hub client and the AMQP 1.0
// codec. The client only sees these interfaces; AMQPDialer backs them with
// github.com/Azure/go-amqp and transporttest backs them with an in-memory broker.
package transport

import (
	"context"
	"crypto/tls"

	"github.com/Azure/go-amqp"
)

// ConnOptions carries what an authenticated connection needs.
type ConnOptions struct {
	HostName  string
	Username  string
	Password  string
	TLSConfig *tls.Config
}

// Dialer opens authenticated connections.
type Dialer interface {
	Dial(ctx context.Context, addr string, opts ConnOptions) (Conn, error)
}

// Conn is one live authenticated connection.
type Conn interface {
	NewSession(ctx context.Context) (Session, error)
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
	// Close tears the connection down and returns the error that ended it, if any.
	Close() error
}

// SenderOptions configure a sender attach.
type SenderOptions struct {
	Name           string
	MaxMessageSize uint64
}

// ReceiverOptions configure a receiver attach.
type ReceiverOptions struct {
	Name           string
	Credit         int32
	MaxMessageSize uint64
}

// Session multiplexes links over a Conn.
type Session interface {
	NewSender(ctx context.Context, target string, opts SenderOptions) (Sender, error)
	NewReceiver(ctx context.Context, source string, opts ReceiverOptions) (Receiver, error)
	Close(ctx context.Context) error
}

type Sender interface {
	Send(ctx context.Context, msg *amqp.Message) error
	Close(ctx context.Context) error
}

type Receiver interface {
	Receive(ctx context.Context) (*amqp.Message, error)
	Accept(ctx context.Context, msg *amqp.Message) error
	Credit() int32
	Close(ctx context.Context) error
}
