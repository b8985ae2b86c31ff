package redis

import (
	"collab-lab/contract"
	"context"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

type testConfig struct {
	Addr string `envconfig:"REDIS_ADDR"`
}

// newRelay needs a reachable Redis, e.g. REDIS_ADDR=localhost:6379.
func newRelay(t *testing.T, presenceTTL time.Duration) (*Relay, *redis.Client) {
	t.Helper()
	var cfg testConfig
	require.NoError(t, envconfig.Process("", &cfg))
	if cfg.Addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unreachable at %s: %v", cfg.Addr, err)
	}
	return NewRelay(client, logs.GetLoggerFromLevel(slog.LevelDebug), presenceTTL), client
}

func nextOf(t *testing.T, sub contract.RelaySubscription, eventType contract.EventType) contract.RelayEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-sub.Events():
			require.True(t, ok, "events stream closed")
			if e.Type == eventType {
				return e
			}
		case <-timeout:
			require.FailNow(t, "no event received", "type %s", eventType)
			return contract.RelayEvent{}
		}
	}
}

func TestRedisRelay_BroadcastAndPresence(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	relay, _ := newRelay(t, 10*time.Second)
	channel := "session:" + uuid.NewString()

	// Given two connections on a fresh channel
	alice, err := relay.Join(ctx, channel, "alice-key")
	req.NoError(err)
	defer alice.Close()
	initial := nextOf(t, alice, contract.EventPresenceSync)
	req.Empty(initial.Presences)
	bob, err := relay.Join(ctx, channel, "bob-key")
	req.NoError(err)
	defer bob.Close()

	// When Alice tracks her presence
	req.NoError(alice.Track(ctx, []byte(`{"id":"alice"}`)))

	// Then Bob sees the delta then the full state
	join := nextOf(t, bob, contract.EventPresenceJoin)
	req.Equal("alice-key", join.Key)
	sync := nextOf(t, bob, contract.EventPresenceSync)
	req.JSONEq(`{"id":"alice"}`, string(sync.Presences["alice-key"][0]))

	// When Alice broadcasts
	req.NoError(alice.Broadcast(ctx, contract.EventNewMessage, []byte(`{"sessionId":"s1"}`)))

	// Then Bob receives it and Alice gets no echo
	e := nextOf(t, bob, contract.EventBroadcast)
	req.Equal(contract.EventNewMessage, e.Event)
	req.JSONEq(`{"sessionId":"s1"}`, string(e.Payload))
	select {
	case got := <-alice.Events():
		req.NotEqual(contract.EventBroadcast, got.Type)
	case <-time.After(100 * time.Millisecond):
	}

	// When Alice leaves
	req.NoError(alice.Close())

	// Then Bob sees her presence removed
	leave := nextOf(t, bob, contract.EventPresenceLeave)
	req.Equal("alice-key", leave.Key)
	after := nextOf(t, bob, contract.EventPresenceSync)
	req.NotContains(after.Presences, "alice-key")
}

func TestRedisRelay_ExpiredPresenceIsRemoved(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	relay, client := newRelay(t, time.Second)
	channel := "session:" + uuid.NewString()
	t.Cleanup(func() { _ = client.Del(context.Background(), presenceHash(channel)).Err() })

	// Given a member whose process died after its last refresh
	req.NoError(client.HSet(ctx, presenceHash(channel), "ghost-key", `{"id":"ghost"}`).Err())
	req.NoError(client.Set(ctx, aliveKey(channel, "ghost-key"), 1, 300*time.Millisecond).Err())

	// And a live member tracking and refreshing its own presence
	bob, err := relay.Join(ctx, channel, "bob-key")
	req.NoError(err)
	defer bob.Close()
	initial := nextOf(t, bob, contract.EventPresenceSync)
	req.Contains(initial.Presences, "ghost-key")
	req.NoError(bob.Track(ctx, []byte(`{"id":"bob"}`)))

	// When the dead member's liveness expires
	leave := nextOf(t, bob, contract.EventPresenceLeave)

	// Then a leave is announced and the next sync only holds Bob
	req.Equal("ghost-key", leave.Key)
	req.JSONEq(`{"id":"ghost"}`, string(leave.Presences["ghost-key"][0]))
	after := nextOf(t, bob, contract.EventPresenceSync)
	req.NotContains(after.Presences, "ghost-key")
	req.Contains(after.Presences, "bob-key")
}
