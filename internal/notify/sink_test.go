package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordingSink(t *testing.T) {
	s := &RecordingSink{}
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, "alice", "Ticket #1", "claimed by bob"))
	require.NoError(t, s.Broadcast(ctx, "tickets:req", "Ticket #1 claimed"))

	assert.Equal(t, []string{"alice"}, s.Recipients())
	assert.Equal(t, []Broadcasting{{Channel: "tickets:req", Message: "Ticket #1 claimed"}}, s.Broadcasts())

	s.Err = errors.New("down")
	assert.Error(t, s.Send(ctx, "bob", "x", "y"))
	assert.Len(t, s.Messages(), 1)
}

func TestLogAndNopSinks(t *testing.T) {
	ctx := context.Background()
	for _, s := range []Sink{NopSink{}, NewLogSink(zap.NewNop()), NewLogSink(nil)} {
		assert.NoError(t, s.Send(ctx, "alice", "s", "b"))
		assert.NoError(t, s.Broadcast(ctx, "c", "m"))
	}
}

func TestRedisSink(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink := NewRedisSink(client, "test-mailbox:")
	key := sink.MailboxKey("alice")
	require.NoError(t, client.Del(ctx, key).Err())

	sub := client.Subscribe(ctx, "tickets:req")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Send(ctx, "alice", "Ticket #3", "claimed"))
	require.NoError(t, sink.Broadcast(ctx, "tickets:req", "Ticket #3 claimed"))

	raw, err := client.LRange(ctx, key, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &msg))
	assert.Equal(t, "Ticket #3", msg.Subject)

	select {
	case m := <-sub.Channel():
		assert.Equal(t, "Ticket #3 claimed", m.Payload)
	case <-ctx.Done():
		t.Fatal("broadcast not received")
	}
}
