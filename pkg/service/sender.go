package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/rwool/servicebus-demo/pkg/service/queue"
)

// SenderConfig contains the configuration for a Sender.
type SenderConfig struct {
	ConnectionString string
	QueueName        string
	// ContentType is attached to every message. Defaults to
	// queue.DefaultContentType.
	ContentType string

	// Dial opens the queue handle. Defaults to queue.DialServiceBus.
	Dial queue.Dialer
	// Stdout receives the confirmation line for each sent message. Defaults
	// to os.Stdout.
	Stdout io.Writer
	Log    log.Logger
}

// Sender sends text messages to a single queue.
//
// The queue handle is owned by the Sender and is opened once in NewSender.
type Sender struct {
	q           queue.Queue
	queueName   string
	contentType string
	out         lockedWriter
	log         log.Logger
}

// NewSender validates conf and opens the queue handle.
//
// Missing connection string or queue name fail before anything is dialed.
func NewSender(ctx context.Context, conf SenderConfig) (*Sender, error) {
	if err := validate(conf.ConnectionString, conf.QueueName); err != nil {
		return nil, err
	}
	if conf.ContentType == "" {
		conf.ContentType = queue.DefaultContentType
	}
	if conf.Dial == nil {
		conf.Dial = queue.DialServiceBus
	}
	if conf.Stdout == nil {
		conf.Stdout = os.Stdout
	}
	if conf.Log == nil {
		conf.Log = log.NewNopLogger()
	}

	q, err := conf.Dial(ctx, conf.ConnectionString, conf.QueueName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open sender for queue %q", conf.QueueName)
	}
	return &Sender{
		q:           q,
		queueName:   conf.QueueName,
		contentType: conf.ContentType,
		out:         lockedWriter{mu: new(sync.Mutex), w: conf.Stdout},
		log:         conf.Log,
	}, nil
}

// Send submits body as a single message and blocks until the queue accepts
// it.
//
// No retry is attempted. On failure the error is returned and no
// confirmation is printed.
func (s *Sender) Send(ctx context.Context, body string) error {
	m := &queue.Message{
		Body:        []byte(body),
		ContentType: s.contentType,
	}
	if err := s.q.Send(ctx, m); err != nil {
		counter("servicebus_send_errors_total", s.queueName).Inc()
		return errors.Wrapf(err, "unable to send message to queue %q", s.queueName)
	}
	counter("servicebus_messages_sent_total", s.queueName).Inc()
	_ = s.log.Log("LEVEL", "DEBUG", "MESSAGE", fmt.Sprintf("Sent message on %s", s.queueName))
	s.out.printf("Message sent: %s\n", body)
	return nil
}

// Close releases the queue handle.
func (s *Sender) Close(ctx context.Context) error {
	return errors.Wrapf(s.q.Close(ctx), "unable to close sender for queue %q", s.queueName)
}
