package queuemock

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/rwool/servicebus-demo/pkg/service/queue"
)

// Ensure QueueMock implements queue.Queue.
var _ queue.Queue = (*QueueMock)(nil)

// QueueMock is a mock implementation of the queue.Queue type.
//
// A single QueueMock can be handed to both a sender and a receiver to act as
// the shared queue between them.
//
// Intended for testing only.
type QueueMock struct {
	c      chan *queue.ReceivedMessage
	nextID int64

	mu          sync.Mutex
	sent        []*queue.Message
	completed   map[string]int
	sendErr     error
	receiveErr  []error
	completeErr error
	closed      int
}

// New returns a new QueueMock.
func New() *QueueMock {
	return &QueueMock{
		c:         make(chan *queue.ReceivedMessage, 100),
		completed: make(map[string]int),
	}
}

// Dialer returns a queue.Dialer that always returns q.
func (q *QueueMock) Dialer() queue.Dialer {
	return func(context.Context, string, string) (queue.Queue, error) {
		return q, nil
	}
}

// FailSend makes every following Send return err. A nil err clears it.
func (q *QueueMock) FailSend(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sendErr = err
}

// FailReceive makes the next Receive return err.
func (q *QueueMock) FailReceive(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.receiveErr = append(q.receiveErr, err)
}

// FailComplete makes every following Complete return err without recording
// the completion. A nil err clears it.
func (q *QueueMock) FailComplete(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completeErr = err
}

// Send records the message and makes it available to Receive.
func (q *QueueMock) Send(ctx context.Context, m *queue.Message) error {
	q.mu.Lock()
	err := q.sendErr
	if err == nil {
		q.sent = append(q.sent, m)
	}
	q.mu.Unlock()
	if err != nil {
		return err
	}

	rm := &queue.ReceivedMessage{
		ID:          strconv.FormatInt(atomic.AddInt64(&q.nextID, 1), 10),
		Body:        m.Body,
		ContentType: m.ContentType,
	}
	rm.Token = rm
	select {
	case q.c <- rm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available or ctx is done, then returns
// it with any other buffered messages up to max.
func (q *QueueMock) Receive(ctx context.Context, max int) ([]*queue.ReceivedMessage, error) {
	q.mu.Lock()
	if len(q.receiveErr) > 0 {
		err := q.receiveErr[0]
		q.receiveErr = q.receiveErr[1:]
		q.mu.Unlock()
		return nil, err
	}
	q.mu.Unlock()

	var out []*queue.ReceivedMessage
	select {
	case m := <-q.c:
		out = append(out, m)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for len(out) < max {
		select {
		case m := <-q.c:
			out = append(out, m)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Complete records the completion of m.
func (q *QueueMock) Complete(_ context.Context, m *queue.ReceivedMessage) error {
	if m.Token == nil {
		return errors.Errorf("message %q was not received from the mock", m.ID)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.completeErr != nil {
		return q.completeErr
	}
	q.completed[m.ID]++
	return nil
}

// Close records the call.
func (q *QueueMock) Close(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed++
	return nil
}

// Sent returns a copy of the successfully sent messages.
func (q *QueueMock) Sent() []*queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*queue.Message(nil), q.sent...)
}

// Completions returns how many times the message with the given ID was
// completed.
func (q *QueueMock) Completions(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed[id]
}

// TotalCompletions returns the number of completions for all messages.
func (q *QueueMock) TotalCompletions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, c := range q.completed {
		n += c
	}
	return n
}

// Closed returns the number of calls to Close.
func (q *QueueMock) Closed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
