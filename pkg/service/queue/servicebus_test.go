package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwool/servicebus-demo/pkg/service/queue"
)

type fakeServiceBus struct {
	sent      []*azservicebus.Message
	sendErr   error
	incoming  []*azservicebus.ReceivedMessage
	completed []*azservicebus.ReceivedMessage
	closed    int
}

func (f *fakeServiceBus) SendMessage(_ context.Context, m *azservicebus.Message, _ *azservicebus.SendMessageOptions) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeServiceBus) ReceiveMessages(_ context.Context, max int, _ *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error) {
	n := max
	if len(f.incoming) < n {
		n = len(f.incoming)
	}
	out := f.incoming[:n]
	f.incoming = f.incoming[n:]
	return out, nil
}

func (f *fakeServiceBus) CompleteMessage(_ context.Context, m *azservicebus.ReceivedMessage, _ *azservicebus.CompleteMessageOptions) error {
	f.completed = append(f.completed, m)
	return nil
}

func (f *fakeServiceBus) Close(_ context.Context) error {
	f.closed++
	return nil
}

func TestServiceBusSend(t *testing.T) {
	t.Parallel()
	f := &fakeServiceBus{}
	a := queue.NewServiceBusAdapter(nil, f, f)

	err := a.Send(context.Background(), &queue.Message{Body: []byte("abc"), ContentType: "application/json"})
	require.NoError(t, err, "Send should succeed.")
	require.Len(t, f.sent, 1, "Exactly one message should be sent.")
	assert.Equal(t, []byte("abc"), f.sent[0].Body, "Body should match.")
	require.NotNil(t, f.sent[0].ContentType, "Content type should be set.")
	assert.Equal(t, "application/json", *f.sent[0].ContentType, "Content type should match.")
}

func TestServiceBusSendError(t *testing.T) {
	t.Parallel()
	sendErr := errors.New("unauthorized")
	f := &fakeServiceBus{sendErr: sendErr}
	a := queue.NewServiceBusAdapter(nil, f, f)

	err := a.Send(context.Background(), &queue.Message{Body: []byte("abc")})
	require.Error(t, err, "Send should fail.")
	assert.Contains(t, err.Error(), "unauthorized", "Cause should be kept.")
}

func TestServiceBusReceiveComplete(t *testing.T) {
	t.Parallel()
	ct := "text/plain"
	f := &fakeServiceBus{incoming: []*azservicebus.ReceivedMessage{
		{MessageID: "1", Body: []byte("one"), ContentType: &ct},
		{MessageID: "2", Body: []byte("two")},
	}}
	a := queue.NewServiceBusAdapter(nil, f, f)
	ctx := context.Background()

	msgs, err := a.Receive(ctx, 5)
	require.NoError(t, err, "Receive should succeed.")
	require.Len(t, msgs, 2, "Both messages should be received.")
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "text/plain", msgs[0].ContentType)
	assert.Equal(t, "two", string(msgs[1].Body))

	require.NoError(t, a.Complete(ctx, msgs[1]), "Complete should succeed.")
	require.Len(t, f.completed, 1, "One message should be completed.")
	assert.Equal(t, "2", f.completed[0].MessageID, "The completed message should be the second one.")

	err = a.Complete(ctx, &queue.ReceivedMessage{ID: "x"})
	assert.Error(t, err, "Completing a foreign message should fail.")

	require.NoError(t, a.Close(ctx))
	assert.Equal(t, 2, f.closed, "Receiver and sender should both be closed.")
}
