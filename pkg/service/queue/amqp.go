package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Ensure AMQPAdapter implements Queue.
var _ Queue = (*AMQPAdapter)(nil)

// AMQPChannel is the subset of *amqp.Channel used by AMQPAdapter.
type AMQPChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// DialAMQP connects to the broker at the amqp:// URL in connectionString,
// checks that queueName exists and returns an AMQPAdapter for it.
//
// The channel is put in confirm mode so that Send returns only after the
// broker has taken responsibility for the message.
func DialAMQP(_ context.Context, connectionString, queueName string) (Queue, error) {
	conn, err := amqp.Dial(connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to AMQP broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "unable to open AMQP channel")
	}
	if _, err := ch.QueueDeclarePassive(queueName, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "queue %q is not available", queueName)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "unable to enable publisher confirms")
	}
	a := NewAMQPAdapter(ch, queueName)
	a.conn = conn
	return a, nil
}

// NewAMQPAdapter creates a new AMQPAdapter publishing to and consuming from
// queueName on ch.
func NewAMQPAdapter(ch AMQPChannel, queueName string) *AMQPAdapter {
	return &AMQPAdapter{
		ch:    ch,
		queue: queueName,
	}
}

// AMQPAdapter adapts an AMQP channel to the Queue interface.
//
// A consumer is only registered on the first call to Receive, so a handle
// that only sends never takes deliveries.
type AMQPAdapter struct {
	ch    AMQPChannel
	conn  *amqp.Connection
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// Send publishes a persistent message to the queue through the default
// exchange.
func (a *AMQPAdapter) Send(ctx context.Context, m *Message) error {
	dc, err := a.ch.PublishWithDeferredConfirmWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  m.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Body:         m.Body,
	})
	if err != nil {
		return errors.Wrap(err, "error publishing to AMQP broker")
	}
	// Channels outside of confirm mode return no confirmation.
	if dc == nil {
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return errors.Wrap(err, "error waiting for publisher confirm")
	}
	if !acked {
		return errors.Errorf("message rejected by AMQP broker for queue %q", a.queue)
	}
	return nil
}

func (a *AMQPAdapter) consume() (<-chan amqp.Delivery, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deliveries != nil {
		return a.deliveries, nil
	}
	d, err := a.ch.Consume(a.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to consume from queue %q", a.queue)
	}
	a.deliveries = d
	return d, nil
}

// Receive waits for one delivery and then takes any further deliveries that
// are already buffered, up to max.
func (a *AMQPAdapter) Receive(ctx context.Context, max int) ([]*ReceivedMessage, error) {
	if max < 1 {
		max = 1
	}
	deliveries, err := a.consume()
	if err != nil {
		return nil, err
	}

	var out []*ReceivedMessage
	select {
	case d, ok := <-deliveries:
		if !ok {
			return nil, errors.New("AMQP delivery channel closed")
		}
		out = append(out, fromDelivery(d))
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}

	for len(out) < max {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return out, nil
			}
			out = append(out, fromDelivery(d))
		default:
			return out, nil
		}
	}
	return out, nil
}

func fromDelivery(d amqp.Delivery) *ReceivedMessage {
	return &ReceivedMessage{
		ID:          d.MessageId,
		Body:        d.Body,
		ContentType: d.ContentType,
		Token:       d,
	}
}

// Complete acknowledges a single delivery.
func (a *AMQPAdapter) Complete(_ context.Context, m *ReceivedMessage) error {
	d, ok := m.Token.(amqp.Delivery)
	if !ok {
		return errors.Errorf("message %q was not received from AMQP broker", m.ID)
	}
	return errors.Wrapf(d.Ack(false), "unable to complete message %q", m.ID)
}

// Close closes the channel and, when owned, the connection.
func (a *AMQPAdapter) Close(_ context.Context) error {
	err := a.ch.Close()
	if a.conn != nil {
		if e := a.conn.Close(); e != nil && err == nil {
			err = e
		}
	}
	return errors.WithStack(err)
}
