// Package queue implements support for sending to and receiving from managed
// message queues.
package queue

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// DefaultContentType is the content type attached to sent messages when none
// is configured.
const DefaultContentType = "application/json"

// ErrUnknownBackend is returned by DialerFor for backends that are not
// supported.
var ErrUnknownBackend = errors.New("unknown queue backend")

// Message is an envelope submitted to a queue as one unit.
type Message struct {
	Body        []byte
	ContentType string
}

// ReceivedMessage is a message delivered from a queue that has not been
// completed yet.
type ReceivedMessage struct {
	ID          string
	Body        []byte
	ContentType string

	// Token is set by the Queue implementation that delivered the message and
	// is used by Complete. It is opaque to callers.
	Token interface{}
}

// Queue wraps the set of methods for writing to a queue and for receiving and
// completing messages from it.
//
// Received messages stay locked by the backend until they are completed.
// Messages that are never completed are redelivered once the backend lock
// expires, so delivery is at least once.
type Queue interface {
	Send(ctx context.Context, m *Message) error
	Receive(ctx context.Context, max int) ([]*ReceivedMessage, error)
	Complete(ctx context.Context, m *ReceivedMessage) error
	Close(ctx context.Context) error
}

// Dialer opens a Queue handle for a single queue.
type Dialer func(ctx context.Context, connectionString, queueName string) (Queue, error)

// DialerFor returns the Dialer for the named backend.
//
// Supported backends are "servicebus", "redis", "sqs" and "amqp". An empty
// name selects "servicebus".
func DialerFor(backend string) (Dialer, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "servicebus":
		return DialServiceBus, nil
	case "redis":
		return DialRedis, nil
	case "sqs":
		return DialSQS, nil
	case "amqp", "rabbitmq":
		return DialAMQP, nil
	}
	return nil, errors.Wrapf(ErrUnknownBackend, "backend %q", backend)
}
