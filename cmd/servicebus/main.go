// Command servicebus sends a single message to a queue on startup and then
// prints and completes every message received from that queue until it is
// interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log"

	"github.com/rwool/servicebus-demo/pkg/config"
)

const greeting = "Hello, Service Bus!"

func main() {
	l := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))

	cfg, err := config.Load(config.DefaultFile)
	if err != nil {
		_ = l.Log("LEVEL", "ERROR", "MESSAGE", err)
		os.Exit(1)
	}
	l = filterDebug(l, cfg.Debug)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, l); err != nil {
		_ = l.Log("LEVEL", "ERROR", "MESSAGE", err)
		cancel()
		os.Exit(1)
	}
}
