package queue

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
)

// Ensure ServiceBusAdapter implements Queue.
var _ Queue = (*ServiceBusAdapter)(nil)

// ServiceBusSender is the subset of *azservicebus.Sender used by
// ServiceBusAdapter.
type ServiceBusSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// ServiceBusReceiver is the subset of *azservicebus.Receiver used by
// ServiceBusAdapter.
type ServiceBusReceiver interface {
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	Close(ctx context.Context) error
}

type closer interface {
	Close(ctx context.Context) error
}

// DialServiceBus creates an Azure Service Bus client from a namespace
// connection string and returns a ServiceBusAdapter for queueName.
//
// The AMQP links are opened lazily by the client on first use.
func DialServiceBus(ctx context.Context, connectionString, queueName string) (Queue, error) {
	client, err := azservicebus.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create Service Bus client")
	}
	sender, err := client.NewSender(queueName, nil)
	if err != nil {
		_ = client.Close(ctx)
		return nil, errors.Wrapf(err, "unable to create Service Bus sender for queue %q", queueName)
	}
	receiver, err := client.NewReceiverForQueue(queueName, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		_ = sender.Close(ctx)
		_ = client.Close(ctx)
		return nil, errors.Wrapf(err, "unable to create Service Bus receiver for queue %q", queueName)
	}
	return NewServiceBusAdapter(client, sender, receiver), nil
}

// NewServiceBusAdapter creates a new ServiceBusAdapter. client may be nil when
// sender and receiver are not owned by a dedicated client.
func NewServiceBusAdapter(client closer, sender ServiceBusSender, receiver ServiceBusReceiver) *ServiceBusAdapter {
	return &ServiceBusAdapter{
		client:   client,
		sender:   sender,
		receiver: receiver,
	}
}

// ServiceBusAdapter adapts Azure Service Bus sender and receiver clients to
// the Queue interface.
type ServiceBusAdapter struct {
	client   closer
	sender   ServiceBusSender
	receiver ServiceBusReceiver
}

// Send sends a single message and blocks until Service Bus accepts it.
func (s *ServiceBusAdapter) Send(ctx context.Context, m *Message) error {
	msg := &azservicebus.Message{Body: m.Body}
	if m.ContentType != "" {
		contentType := m.ContentType
		msg.ContentType = &contentType
	}
	err := s.sender.SendMessage(ctx, msg, nil)
	return errors.Wrap(err, "error sending to Service Bus")
}

// Receive waits for at least one message and returns up to max messages
// locked in peek-lock mode.
func (s *ServiceBusAdapter) Receive(ctx context.Context, max int) ([]*ReceivedMessage, error) {
	if max < 1 {
		max = 1
	}
	msgs, err := s.receiver.ReceiveMessages(ctx, max, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error receiving from Service Bus")
	}
	out := make([]*ReceivedMessage, 0, len(msgs))
	for _, msg := range msgs {
		rm := &ReceivedMessage{
			ID:    msg.MessageID,
			Body:  msg.Body,
			Token: msg,
		}
		if msg.ContentType != nil {
			rm.ContentType = *msg.ContentType
		}
		out = append(out, rm)
	}
	return out, nil
}

// Complete settles a message so that Service Bus deletes it.
func (s *ServiceBusAdapter) Complete(ctx context.Context, m *ReceivedMessage) error {
	msg, ok := m.Token.(*azservicebus.ReceivedMessage)
	if !ok {
		return errors.Errorf("message %q was not received from Service Bus", m.ID)
	}
	err := s.receiver.CompleteMessage(ctx, msg, nil)
	return errors.Wrapf(err, "unable to complete message %q", m.ID)
}

// Close closes the receiver, the sender and then the client.
//
// Only the first error encountered is returned.
func (s *ServiceBusAdapter) Close(ctx context.Context) error {
	var err error
	if e := s.receiver.Close(ctx); e != nil {
		err = errors.Wrap(e, "unable to close Service Bus receiver")
	}
	if e := s.sender.Close(ctx); e != nil && err == nil {
		err = errors.Wrap(e, "unable to close Service Bus sender")
	}
	if s.client != nil {
		if e := s.client.Close(ctx); e != nil && err == nil {
			err = errors.Wrap(e, "unable to close Service Bus client")
		}
	}
	return err
}
