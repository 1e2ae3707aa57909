//go:build integration
// +build integration

package queue_test

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rwool/servicebus-demo/pkg/service/internal/redistest"
	"github.com/rwool/servicebus-demo/pkg/service/queue"
)

var seedOnce sync.Once

func randString() string {
	seedOnce.Do(func() { rand.Seed(time.Now().UnixNano()) })
	i := rand.Int()
	return strconv.Itoa(i)
}

func TestRedisConnection(t *testing.T) {
	t.Parallel()
	client := redistest.Connect(t)
	assert.NoError(t, client.Ping().Err(), "Should be no error with Redis connection.")
}

func TestRedisQueue(t *testing.T) {
	client := redistest.Connect(t)
	adapter := queue.NewRedisAdapter(client, t.Name()+randString())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	found := make(map[string]struct{})
	var foundMu sync.Mutex

	group.Go(func() error {
		for i := 0; i < 10; i++ {
			err := adapter.Send(ctx, &queue.Message{Body: []byte(strconv.Itoa(i)), ContentType: "text/plain"})
			if err != nil {
				return err
			}
		}
		return nil
	})

	group.Go(func() error {
		for {
			foundMu.Lock()
			n := len(found)
			foundMu.Unlock()
			if n == 10 {
				return nil
			}
			msgs, err := adapter.Receive(ctx, 3)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				if err := adapter.Complete(ctx, m); err != nil {
					return err
				}
				foundMu.Lock()
				found[string(m.Body)] = struct{}{}
				foundMu.Unlock()
			}
		}
	})

	require.NoError(t, group.Wait(), "Sending and receiving messages should not error.")
	for i := 0; i < 10; i++ {
		_, ok := found[strconv.Itoa(i)]
		require.True(t, ok, "Missing value %d in found set", i)
	}

	msgs, err := adapter.Receive(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, msgs, "Queue should be drained.")
}

func TestRedisCompleteTwice(t *testing.T) {
	client := redistest.Connect(t)
	adapter := queue.NewRedisAdapter(client, t.Name()+randString())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, adapter.Send(ctx, &queue.Message{Body: []byte("once")}))
	msgs, err := adapter.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, adapter.Complete(ctx, msgs[0]), "First completion should succeed.")
	assert.Error(t, adapter.Complete(ctx, msgs[0]), "Second completion should fail.")
}
