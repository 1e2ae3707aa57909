package queue_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwool/servicebus-demo/pkg/service/queue"
)

const fakeQueueURL = "https://sqs.local/000000000000/demo"

type fakeSQS struct {
	urlErr   error
	sent     []*sqs.SendMessageInput
	receive  *sqs.ReceiveMessageInput
	messages []types.Message
	deleted  []string
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	if f.urlErr != nil {
		return nil, f.urlErr
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(fakeQueueURL)}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("id")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receive = in
	out := f.messages
	f.messages = nil
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueNotFound(t *testing.T) {
	t.Parallel()
	notFound := errors.New("queue does not exist")
	_, err := queue.NewSQSAdapter(context.Background(), &fakeSQS{urlErr: notFound}, "demo")
	require.Error(t, err, "Missing queue should fail at construction.")
	assert.Equal(t, notFound, errors.Cause(err))
}

func TestSQSSendReceiveComplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := &fakeSQS{}
	a, err := queue.NewSQSAdapter(ctx, f, "demo")
	require.NoError(t, err)

	require.NoError(t, a.Send(ctx, &queue.Message{Body: []byte("hi"), ContentType: "application/json"}))
	require.Len(t, f.sent, 1)
	assert.Equal(t, fakeQueueURL, aws.ToString(f.sent[0].QueueUrl))
	assert.Equal(t, "hi", aws.ToString(f.sent[0].MessageBody))
	assert.Equal(t, "application/json", aws.ToString(f.sent[0].MessageAttributes["ContentType"].StringValue))

	msgs, err := a.Receive(ctx, 50)
	require.NoError(t, err)
	assert.Nil(t, msgs, "Empty long poll should return nothing.")
	assert.Equal(t, int32(10), f.receive.MaxNumberOfMessages, "Batch size should be capped.")

	f.messages = []types.Message{{
		MessageId:     aws.String("m1"),
		Body:          aws.String("hi"),
		ReceiptHandle: aws.String("r1"),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"ContentType": {DataType: aws.String("String"), StringValue: aws.String("application/json")},
		},
	}}
	msgs, err = a.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "hi", string(msgs[0].Body))
	assert.Equal(t, "application/json", msgs[0].ContentType)

	require.NoError(t, a.Complete(ctx, msgs[0]))
	assert.Equal(t, []string{"r1"}, f.deleted, "Completion should delete by receipt handle.")
}
