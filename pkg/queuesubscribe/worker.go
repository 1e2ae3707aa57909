// Package queuesubscribe provides support for continuously receiving messages
// from a queue and dispatching them to callbacks.
//
// This is analogous to the http package for the send endpoint.
package queuesubscribe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"golang.org/x/sync/semaphore"

	"github.com/rwool/servicebus-demo/pkg/service/queue"
)

// DefaultIdleDelay is the pause after an empty receive.
const DefaultIdleDelay = 100 * time.Millisecond

// MessageFunc is called once per received message.
type MessageFunc func(ctx context.Context, m *queue.ReceivedMessage)

// ErrorFunc is called once per receive error.
type ErrorFunc func(ctx context.Context, err error)

// Config contains the configuration for setting up a processor on a queue.
type Config struct {
	Queue   queue.Queue
	Log     log.Logger
	Channel string

	// MaxMessages is the most messages requested per receive. Defaults to 1.
	MaxMessages int
	// MaxConcurrent is the most ProcessMessage calls running at once.
	// Defaults to 1.
	MaxConcurrent int
	// IdleDelay is the pause after a receive that returned no messages.
	// Defaults to DefaultIdleDelay.
	IdleDelay time.Duration

	ProcessMessage MessageFunc
	ProcessError   ErrorFunc
}

func (c *Config) setDefaults() {
	if c.Log == nil {
		c.Log = log.NewNopLogger()
	}
	if c.MaxMessages < 1 {
		c.MaxMessages = 1
	}
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = DefaultIdleDelay
	}
	if c.ProcessError == nil {
		c.ProcessError = func(context.Context, error) {}
	}
}

// MakeProcessor returns a function that receives from the configured queue
// until its context is done.
//
// The returned function waits for in-flight ProcessMessage calls before
// returning. Those calls get a context that is not cancelled with the
// processor's, so a message being handled at shutdown can still be completed.
// Messages received but not yet dispatched at shutdown are left uncompleted and
// are redelivered by the backend.
func MakeProcessor(conf Config) func(context.Context) {
	conf.setDefaults()

	var (
		dataC   = make(chan *queue.ReceivedMessage)
		subLoop = makeSubscribeLoop(conf, dataC)
		sema    = semaphore.NewWeighted(int64(conf.MaxConcurrent))
	)

	return func(ctx context.Context) {
		var wg sync.WaitGroup
		defer wg.Wait()

		wg.Add(1)
		go func() {
			defer wg.Done()
			subLoop(ctx)
		}()

		handlerCtx := context.WithoutCancel(ctx)
		for {
			select {
			case m := <-dataC:
				if err := sema.Acquire(ctx, 1); err != nil {
					return
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer sema.Release(1)
					conf.ProcessMessage(handlerCtx, m)
				}()
			case <-ctx.Done():
				return
			}
		}
	}
}

// makeSubscribeLoop returns a function for sending messages received from a
// queue over a channel.
func makeSubscribeLoop(conf Config, c chan *queue.ReceivedMessage) func(context.Context) {
	return func(ctx context.Context) {
		_ = conf.Log.Log("LEVEL", "INFO", "MESSAGE", fmt.Sprintf("Beginning subscription for %s", conf.Channel))
		defer func() {
			_ = conf.Log.Log("LEVEL", "INFO", "MESSAGE", fmt.Sprintf("Ending subscription for %s", conf.Channel))
		}()

		for {
			msgs, err := conf.Queue.Receive(ctx, conf.MaxMessages)
			// Check if the Receive was stopped from a context cancellation or
			// deadline.
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err != nil {
				conf.ProcessError(ctx, err)
				if !sleep(ctx, conf.IdleDelay) {
					return
				}
				continue
			}
			if len(msgs) == 0 {
				if !sleep(ctx, conf.IdleDelay) {
					return
				}
				continue
			}

			for _, m := range msgs {
				_ = conf.Log.Log("LEVEL", "DEBUG", "MESSAGE", fmt.Sprintf("Received message %s on %s", m.ID, conf.Channel))
				select {
				case c <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// sleep waits for d and reports false if ctx finished first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop() // Don't leak the timer.
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
