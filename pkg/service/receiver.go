package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/rwool/servicebus-demo/pkg/queuesubscribe"
	"github.com/rwool/servicebus-demo/pkg/service/queue"
)

// ReceiverConfig contains the configuration for a Receiver.
type ReceiverConfig struct {
	ConnectionString string
	QueueName        string

	// MaxMessages is the most messages requested per receive. Defaults to 1.
	MaxMessages int
	// MaxConcurrent is the most messages handled at once. Defaults to 1.
	MaxConcurrent int
	// IdleDelay is the pause after an empty receive or a receive error.
	IdleDelay time.Duration

	// Dial opens the queue handle. Defaults to queue.DialServiceBus.
	Dial queue.Dialer
	// Stdout receives one line per received message. Defaults to os.Stdout.
	Stdout io.Writer
	// Stderr receives one line per processing error. Defaults to os.Stderr.
	Stderr io.Writer
	Log    log.Logger
}

// Receiver continuously receives messages from a single queue, prints them
// and completes them.
//
// Processing starts in NewReceiver and runs until Close.
type Receiver struct {
	q         queue.Queue
	queueName string
	stdout    lockedWriter
	stderr    lockedWriter
	log       log.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewReceiver validates conf, opens the queue handle and starts processing in
// the background.
//
// Missing connection string or queue name fail before anything is dialed.
func NewReceiver(ctx context.Context, conf ReceiverConfig) (*Receiver, error) {
	if err := validate(conf.ConnectionString, conf.QueueName); err != nil {
		return nil, err
	}
	if conf.Dial == nil {
		conf.Dial = queue.DialServiceBus
	}
	if conf.Stdout == nil {
		conf.Stdout = os.Stdout
	}
	if conf.Stderr == nil {
		conf.Stderr = os.Stderr
	}
	if conf.Log == nil {
		conf.Log = log.NewNopLogger()
	}

	q, err := conf.Dial(ctx, conf.ConnectionString, conf.QueueName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open receiver for queue %q", conf.QueueName)
	}

	// Both writers may point at the same file.
	mu := new(sync.Mutex)
	r := &Receiver{
		q:         q,
		queueName: conf.QueueName,
		stdout:    lockedWriter{mu: mu, w: conf.Stdout},
		stderr:    lockedWriter{mu: mu, w: conf.Stderr},
		log:       conf.Log,
		done:      make(chan struct{}),
	}

	processor := queuesubscribe.MakeProcessor(queuesubscribe.Config{
		Queue:          q,
		Log:            conf.Log,
		Channel:        conf.QueueName,
		MaxMessages:    conf.MaxMessages,
		MaxConcurrent:  conf.MaxConcurrent,
		IdleDelay:      conf.IdleDelay,
		ProcessMessage: r.processMessage,
		ProcessError:   r.processError,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		defer close(r.done)
		processor(runCtx)
	}()
	return r, nil
}

// processMessage prints the body of m and completes it.
func (r *Receiver) processMessage(ctx context.Context, m *queue.ReceivedMessage) {
	counter("servicebus_messages_received_total", r.queueName).Inc()
	r.stdout.printf("Message Received: %s\n", m.Body)
	if err := r.q.Complete(ctx, m); err != nil {
		r.processError(ctx, err)
		return
	}
	_ = r.log.Log("LEVEL", "DEBUG", "MESSAGE", fmt.Sprintf("Completed message %s on %s", m.ID, r.queueName))
}

// processError prints err. Nothing else is done about it.
func (r *Receiver) processError(_ context.Context, err error) {
	counter("servicebus_processing_errors_total", r.queueName).Inc()
	r.stderr.printf("Message Processing Error: %v\n", err)
}

// Close stops processing, waits for in-flight messages and releases the queue
// handle.
//
// If ctx finishes before in-flight messages are done, the handle is closed
// anyway and ctx's error is returned. Those messages keep running after Close
// returns; their completion then fails against the closed handle and is
// reported through the error callback. Close may be called more than once.
func (r *Receiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.cancel()
		var waitErr error
		select {
		case <-r.done:
		case <-ctx.Done():
			waitErr = errors.Wrap(ctx.Err(), "in-flight messages did not finish")
		}
		err := r.q.Close(ctx)
		if waitErr != nil {
			r.closeErr = waitErr
			return
		}
		r.closeErr = errors.Wrapf(err, "unable to close receiver for queue %q", r.queueName)
	})
	return r.closeErr
}
