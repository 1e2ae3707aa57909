package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwool/servicebus-demo/internal/queuemock"
	"github.com/rwool/servicebus-demo/pkg/config"
)

type safeBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func testConfig() *config.Config {
	return &config.Config{
		ConnectionString: "Endpoint=sb://demo.servicebus.windows.net/",
		QueueName:        "demo",
		Backend:          "servicebus",
		ContentType:      "application/json",
		MaxConcurrent:    1,
		MaxMessages:      1,
		ShutdownTimeout:  time.Second,
	}
}

func TestRunSendsGreeting(t *testing.T) {
	t.Parallel()
	q := queuemock.New()
	var stdout, stderr safeBuffer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errC := make(chan error, 1)
	go func() {
		errC <- runWith(ctx, testConfig(), log.NewNopLogger(), q.Dialer(), &stdout, &stderr)
	}()

	require.Eventually(t, func() bool {
		return q.TotalCompletions() == 1
	}, 2*time.Second, 5*time.Millisecond, "Greeting should be received.")
	cancel()

	select {
	case err := <-errC:
		require.NoError(t, err, "Run should stop cleanly.")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop.")
	}

	out := stdout.String()
	assert.Contains(t, out, "Message sent: Hello, Service Bus!\n")
	assert.Equal(t, 1, strings.Count(out, "Message Received: Hello, Service Bus!\n"))
	assert.Empty(t, stderr.String())
	require.Len(t, q.Sent(), 1)
	assert.Equal(t, "application/json", q.Sent()[0].ContentType)
	assert.Equal(t, 2, q.Closed(), "Receiver and sender handles should be closed.")
}

func TestRunSendFailureAbortsStartup(t *testing.T) {
	t.Parallel()
	q := queuemock.New()
	sendErr := errors.New("unauthorized")
	q.FailSend(sendErr)
	var stdout, stderr safeBuffer

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := runWith(ctx, testConfig(), log.NewNopLogger(), q.Dialer(), &stdout, &stderr)
	require.Error(t, err, "Run should fail.")
	assert.Equal(t, sendErr, pkgerrors.Cause(err))
	assert.NotContains(t, stdout.String(), "Message sent:")
}

func TestRunUnknownBackend(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Backend = "carrier-pigeon"
	err := run(context.Background(), cfg, log.NewNopLogger())
	assert.Error(t, err)
}

func TestFilterDebug(t *testing.T) {
	t.Parallel()
	var records [][]interface{}
	next := log.LoggerFunc(func(keyvals ...interface{}) error {
		records = append(records, keyvals)
		return nil
	})

	l := filterDebug(next, false)
	_ = l.Log("LEVEL", "DEBUG", "MESSAGE", "hidden")
	_ = l.Log("LEVEL", "INFO", "MESSAGE", "shown")
	require.Len(t, records, 1)
	assert.Equal(t, "shown", records[0][3])

	l = filterDebug(next, true)
	_ = l.Log("LEVEL", "DEBUG", "MESSAGE", "shown")
	assert.Len(t, records, 2)
}
