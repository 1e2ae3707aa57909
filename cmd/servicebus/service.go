package main

import (
	"context"
	"fmt"
	"io"
	"net"
	gohttp "net/http"
	"os"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rwool/servicebus-demo/pkg/config"
	"github.com/rwool/servicebus-demo/pkg/endpoint"
	"github.com/rwool/servicebus-demo/pkg/http"
	"github.com/rwool/servicebus-demo/pkg/service"
	"github.com/rwool/servicebus-demo/pkg/service/queue"
)

func run(ctx context.Context, cfg *config.Config, l log.Logger) error {
	dial, err := queue.DialerFor(cfg.Backend)
	if err != nil {
		return errors.WithStack(err)
	}
	return runWith(ctx, cfg, l, dial, os.Stdout, os.Stderr)
}

// runWith starts the receiver, sends the greeting and blocks until ctx is
// done. The receiver and sender are closed before it returns.
func runWith(ctx context.Context, cfg *config.Config, l log.Logger, dial queue.Dialer, stdout, stderr io.Writer) error {
	_ = l.Log("LEVEL", "INFO", "MESSAGE", fmt.Sprintf("Starting with backend %s on queue %s", cfg.Backend, cfg.QueueName))

	receiver, err := service.NewReceiver(ctx, service.ReceiverConfig{
		ConnectionString: cfg.ConnectionString,
		QueueName:        cfg.QueueName,
		MaxMessages:      cfg.MaxMessages,
		MaxConcurrent:    cfg.MaxConcurrent,
		Dial:             dial,
		Stdout:           stdout,
		Stderr:           stderr,
		Log:              l,
	})
	if err != nil {
		return err
	}
	defer closeWithTimeout(l, cfg.ShutdownTimeout, "receiver", receiver.Close)

	sender, err := service.NewSender(ctx, service.SenderConfig{
		ConnectionString: cfg.ConnectionString,
		QueueName:        cfg.QueueName,
		ContentType:      cfg.ContentType,
		Dial:             dial,
		Stdout:           stdout,
		Log:              l,
	})
	if err != nil {
		return err
	}
	defer closeWithTimeout(l, cfg.ShutdownTimeout, "sender", sender.Close)

	if err := sender.Send(ctx, greeting); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	if cfg.HTTPAddress != "" {
		server, err := serveHTTP(cfg.HTTPAddress, http.NewHTTPHandler(endpoint.MakeSendEndpoint(sender), nil))
		if err != nil {
			return err
		}
		group.Go(func() error {
			return server(ctx, l)
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		_ = l.Log("LEVEL", "INFO", "MESSAGE", "Shutting down")
		return nil
	})
	return group.Wait()
}

func closeWithTimeout(l log.Logger, timeout time.Duration, name string, closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := closeFn(ctx); err != nil {
		_ = l.Log("LEVEL", "WARN", "MESSAGE", fmt.Sprintf("Unable to close %s: %s", name, err))
	}
}

func serveHTTP(address string, h gohttp.Handler) (func(context.Context, log.Logger) error, error) {
	// Separate listening and serving to capture listen errors.
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create TCP listener")
	}

	return func(ctx context.Context, logger log.Logger) error {
		srv := &gohttp.Server{Handler: h}
		go func() {
			<-ctx.Done()
			if err := srv.Close(); err != nil {
				_ = logger.Log("LEVEL", "WARN", "MESSAGE", err)
			}
		}()
		_ = logger.Log("LEVEL", "INFO", "MESSAGE", fmt.Sprintf("Serving HTTP on %s", l.Addr()))
		err := srv.Serve(l)
		if err == gohttp.ErrServerClosed {
			return nil
		}
		return errors.Wrap(err, "HTTP server stopped")
	}, nil
}

// filterDebug drops DEBUG records unless debug is set.
func filterDebug(next log.Logger, debug bool) log.Logger {
	if debug {
		return next
	}
	return log.LoggerFunc(func(keyvals ...interface{}) error {
		for i := 0; i+1 < len(keyvals); i += 2 {
			if keyvals[i] == "LEVEL" && keyvals[i+1] == "DEBUG" {
				return nil
			}
		}
		return next.Log(keyvals...)
	})
}
