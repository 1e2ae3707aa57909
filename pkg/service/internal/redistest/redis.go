// Package redistest implements support code for testing queues against a live
// Redis server.
package redistest

import (
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis"
)

// Options builds client options from the environment.
//
// REDIS_URL takes precedence. Otherwise REDIS_IP, with optional REDIS_PASS,
// is used. ok is false when neither is set.
func Options() (opts *redis.Options, ok bool, err error) {
	if u := os.Getenv("REDIS_URL"); u != "" {
		opts, err = redis.ParseURL(u)
		return opts, err == nil, err
	}
	addr := os.Getenv("REDIS_IP")
	if addr == "" {
		return nil, false, nil
	}
	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASS"),
	}, true, nil
}

// Connect connects to Redis and returns the Client object.
//
// The test is skipped when no server is configured.
func Connect(t *testing.T) *redis.Client {
	t.Helper()
	opts, ok, err := Options()
	if err != nil {
		t.Fatalf("Invalid REDIS_URL: %s", err)
	}
	if !ok {
		t.Skip("Missing Redis address")
	}
	opts.MaxRetries = 3
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
