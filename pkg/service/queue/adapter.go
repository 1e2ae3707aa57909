package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Ensure RedisAdapter implements Queue.
var _ Queue = (*RedisAdapter)(nil)

// redisPopTimeout bounds a single blocking pop so that a cancelled context is
// noticed between pops.
const redisPopTimeout = time.Second

// DialRedis connects to the Redis server described by the redis:// URL in
// connectionString and returns a RedisAdapter for queueName.
func DialRedis(ctx context.Context, connectionString, queueName string) (Queue, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "invalid Redis connection string")
	}
	opts.MaxRetries = 10
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)
	if err := client.WithContext(ctx).Ping().Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "unable to reach Redis")
	}
	return NewRedisAdapter(client, queueName), nil
}

// NewRedisAdapter creates a new RedisAdapter.
func NewRedisAdapter(c *redis.Client, queueName string) *RedisAdapter {
	if c == nil {
		panic("nil queue client")
	}
	return &RedisAdapter{
		c:          c,
		queue:      queueName,
		processing: queueName + ":processing",
	}
}

// RedisAdapter for a Redis client to implement the Queue interface.
//
// Messages are pushed onto the head of a list and popped from its tail into a
// processing list. Completing a message removes it from the processing list.
type RedisAdapter struct {
	c          *redis.Client
	queue      string
	processing string
}

// redisEnvelope is the stored form of a message.
type redisEnvelope struct {
	ID          string `json:"id"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type,omitempty"`
}

// Send pushes a message onto the queue list.
func (r *RedisAdapter) Send(ctx context.Context, m *Message) error {
	data, err := json.Marshal(redisEnvelope{
		ID:          uuid.New().String(),
		Body:        m.Body,
		ContentType: m.ContentType,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	client := r.c.WithContext(ctx)
	err = client.LPush(r.queue, string(data)).Err()
	return errors.Wrapf(err, "error pushing to Redis list %q", r.queue)
}

// Receive moves up to max messages from the queue list to the processing
// list.
//
// The first pop blocks for at most redisPopTimeout. Nil is returned when no
// message arrived in that time.
func (r *RedisAdapter) Receive(ctx context.Context, max int) ([]*ReceivedMessage, error) {
	if max < 1 {
		max = 1
	}
	client := r.c.WithContext(ctx)

	raw, err := client.BRPopLPush(r.queue, r.processing, redisPopTimeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error reading from Redis list %q", r.queue)
	}

	values := []string{raw}
	for len(values) < max {
		v, err := client.RPopLPush(r.queue, r.processing).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			// Already moved values are returned. The error shows up on the
			// next call if it persists.
			break
		}
		values = append(values, v)
	}

	out := make([]*ReceivedMessage, 0, len(values))
	var firstErr error
	for _, v := range values {
		var env redisEnvelope
		if err := json.Unmarshal([]byte(v), &env); err != nil {
			// Undecodable entries would otherwise sit in the processing list
			// forever.
			_ = client.LRem(r.processing, 1, v).Err()
			if firstErr == nil {
				firstErr = errors.Wrap(err, "unable to decode message from Redis")
			}
			continue
		}
		out = append(out, &ReceivedMessage{
			ID:          env.ID,
			Body:        env.Body,
			ContentType: env.ContentType,
			Token:       v,
		})
	}
	return out, firstErr
}

// Complete removes a received message from the processing list.
func (r *RedisAdapter) Complete(ctx context.Context, m *ReceivedMessage) error {
	raw, ok := m.Token.(string)
	if !ok {
		return errors.Errorf("message %q was not received from Redis", m.ID)
	}
	client := r.c.WithContext(ctx)
	n, err := client.LRem(r.processing, 1, raw).Result()
	if err != nil {
		return errors.Wrapf(err, "unable to complete message %q", m.ID)
	}
	if n == 0 {
		return errors.Errorf("message %q is not being processed", m.ID)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisAdapter) Close(_ context.Context) error {
	return errors.WithStack(r.c.Close())
}
