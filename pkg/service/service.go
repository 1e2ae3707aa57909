// Package service implements the sender and receiver for a single managed
// queue.
package service

import (
	"fmt"
	"io"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

// ErrInvalidConfig is the cause of errors returned for missing or invalid
// construction parameters.
var ErrInvalidConfig = errors.New("invalid configuration")

func validate(connectionString, queueName string) error {
	if connectionString == "" {
		return errors.Wrap(ErrInvalidConfig, "missing connection string")
	}
	if queueName == "" {
		return errors.Wrap(ErrInvalidConfig, "missing queue name")
	}
	return nil
}

func counter(name, queueName string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf("%s{queue=%q}", name, queueName))
}

// lockedWriter serializes writes so that lines from concurrent callbacks do
// not interleave.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) printf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.w, format, args...)
}
