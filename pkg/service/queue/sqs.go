package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"
)

// Ensure SQSAdapter implements Queue.
var _ Queue = (*SQSAdapter)(nil)

const (
	sqsContentTypeAttribute = "ContentType"
	sqsMaxMessages          = 10
	sqsWaitTimeSeconds      = 20
)

// SQSClient is the subset of *sqs.Client used by SQSAdapter.
type SQSClient interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// DialSQS loads the default AWS configuration, points the SQS client at the
// endpoint URL in connectionString and resolves the URL of queueName.
func DialSQS(ctx context.Context, connectionString, queueName string) (Queue, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load AWS configuration")
	}
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(connectionString)
	})
	return NewSQSAdapter(ctx, client, queueName)
}

// NewSQSAdapter resolves the URL of queueName and returns an SQSAdapter for
// it.
func NewSQSAdapter(ctx context.Context, client SQSClient, queueName string) (*SQSAdapter, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to get SQS queue URL for %q", queueName)
	}
	return &SQSAdapter{
		client: client,
		url:    aws.ToString(out.QueueUrl),
	}, nil
}

// SQSAdapter adapts an SQS client to the Queue interface.
type SQSAdapter struct {
	client SQSClient
	url    string
}

// Send sends a single message. The content type travels as a string message
// attribute.
func (s *SQSAdapter) Send(ctx context.Context, m *Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.url),
		MessageBody: aws.String(string(m.Body)),
	}
	if m.ContentType != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			sqsContentTypeAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(m.ContentType),
			},
		}
	}
	_, err := s.client.SendMessage(ctx, input)
	return errors.Wrap(err, "error sending to SQS")
}

// Receive long polls for up to max messages. SQS caps max at 10.
//
// Long polling may return no messages, in which case nil is returned.
func (s *SQSAdapter) Receive(ctx context.Context, max int) ([]*ReceivedMessage, error) {
	if max < 1 {
		max = 1
	}
	if max > sqsMaxMessages {
		max = sqsMaxMessages
	}
	output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(s.url),
		MaxNumberOfMessages:   int32(max),
		WaitTimeSeconds:       sqsWaitTimeSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, errors.Wrap(err, "error receiving from SQS")
	}
	if len(output.Messages) == 0 {
		return nil, nil
	}

	out := make([]*ReceivedMessage, 0, len(output.Messages))
	for _, msg := range output.Messages {
		rm := &ReceivedMessage{
			ID:    aws.ToString(msg.MessageId),
			Body:  []byte(aws.ToString(msg.Body)),
			Token: aws.ToString(msg.ReceiptHandle),
		}
		if v, ok := msg.MessageAttributes[sqsContentTypeAttribute]; ok {
			rm.ContentType = aws.ToString(v.StringValue)
		}
		out = append(out, rm)
	}
	return out, nil
}

// Complete deletes a received message from the queue.
func (s *SQSAdapter) Complete(ctx context.Context, m *ReceivedMessage) error {
	handle, ok := m.Token.(string)
	if !ok || handle == "" {
		return errors.Errorf("message %q was not received from SQS", m.ID)
	}
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.url),
		ReceiptHandle: aws.String(handle),
	})
	return errors.Wrapf(err, "unable to complete message %q", m.ID)
}

// Close is a no-op; the SQS client holds no long lived connection.
func (s *SQSAdapter) Close(_ context.Context) error {
	return nil
}
