package transport

import (
	"errors"
	"io"
	"net"
	"os"

	"github.com/Azure/go-amqp"
)

// FaultKind classifies why a connection ended.
type FaultKind int

const (
	// FaultDisconnected is a clean close with no error attached.
	FaultDisconnected FaultKind = iota
	// FaultServiceDisconnect means the broker closed the connection with an error.
	FaultServiceDisconnect
	// FaultCodec covers frames the codec could not decode or encode.
	FaultCodec
	// FaultProtocol covers AMQP-level errors raised locally.
	FaultProtocol
	// FaultIO covers socket and TLS failures.
	FaultIO
)

func (k FaultKind) String() string {
	switch k {
	case FaultDisconnected:
		return "disconnected"
	case FaultServiceDisconnect:
		return "service_disconnect"
	case FaultCodec:
		return "codec"
	case FaultProtocol:
		return "protocol"
	case FaultIO:
		return "io"
	default:
		return "unknown"
	}
}

// Classify maps the error that ended a connection to a FaultKind.
func Classify(err error) FaultKind {
	if err == nil {
		return FaultDisconnected
	}

	var connErr *amqp.ConnError
	if errors.As(err, &connErr) && connErr.RemoteErr != nil {
		return FaultServiceDisconnect
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return FaultProtocol
	}
	if isIOError(err) {
		return FaultIO
	}
	if connErr != nil {
		return FaultDisconnected
	}
	return FaultCodec
}

func isIOError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
