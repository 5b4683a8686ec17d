package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueSnapshot struct {
	Paused bool     `json:"paused"`
	Slots  []string `json:"slots"`
}

func newRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBroker(client)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

// brokers returns every Broker implementation so behavior tests run against both.
func brokers(t *testing.T) map[string]Broker {
	t.Helper()
	rb, _ := newRedisBroker(t)
	return map[string]Broker{
		"memory": NewMemoryBroker(),
		"redis":  rb,
	}
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "item:downloads:integration:sab-1", Topic("downloads", "sab-1"))
	assert.Equal(t, Topic("calendar", "x"), ItemAndIntegration[int](NewMemoryBroker(), "calendar", "x").Topic())
}

func TestChannel_PublishThenLastState(t *testing.T) {
	for name, b := range brokers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ch := ItemAndIntegration[queueSnapshot](b, "downloads", "sab-1")

			_, ok, err := ch.LastState(ctx)
			require.NoError(t, err)
			assert.False(t, ok, "no state before the first publish")

			v := queueSnapshot{Paused: true, Slots: []string{"a", "b"}}
			require.NoError(t, ch.PublishAndUpdateLastState(ctx, v))

			got, ok, err := ch.LastState(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, v, got.Value)
			assert.False(t, got.UpdatedAt.IsZero())
		})
	}
}

func TestChannel_LastStateIsNeverOlderThanLastPublish(t *testing.T) {
	ctx := context.Background()
	ch := Named[int](NewMemoryBroker(), "counter")

	for i := 1; i <= 50; i++ {
		require.NoError(t, ch.PublishAndUpdateLastState(ctx, i))
		got, ok, err := ch.LastState(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.GreaterOrEqual(t, got.Value, i)
	}
}

func TestLockStripe(t *testing.T) {
	a := lockStripe(Topic("downloads", "sab-1"))
	assert.Same(t, a, lockStripe(Topic("downloads", "sab-1")))

	seen := make(map[*sync.Mutex]bool)
	for i := 0; i < 1000; i++ {
		seen[lockStripe(fmt.Sprintf("ping:https://host-%d.example", i))] = true
	}
	assert.LessOrEqual(t, len(seen), len(publishLocks))
	assert.Greater(t, len(seen), 1, "topics are spread across stripes")
}

func TestChannel_ConcurrentPublishesKeepStateAndBroadcastInStep(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	const topics, publishes = 8, 25
	var wg sync.WaitGroup
	last := make([]chan Timestamped[int], topics)
	for i := 0; i < topics; i++ {
		ch := Named[int](b, fmt.Sprintf("topic-%d", i))
		updates, stop, err := ch.Subscribe(ctx)
		require.NoError(t, err)
		t.Cleanup(stop)

		last[i] = make(chan Timestamped[int], 1)
		go func(i int) {
			var v Timestamped[int]
			for n := 0; n < 2*publishes; n++ {
				v = <-updates
			}
			last[i] <- v
		}(i)

		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for n := 0; n < publishes; n++ {
					assert.NoError(t, ch.PublishAndUpdateLastState(ctx, w*publishes+n))
				}
			}(w)
		}
	}
	wg.Wait()

	for i := 0; i < topics; i++ {
		var final Timestamped[int]
		select {
		case final = <-last[i]:
		case <-time.After(2 * time.Second):
			t.Fatalf("topic-%d: not every publish was broadcast", i)
		}
		state, ok, err := Named[int](b, fmt.Sprintf("topic-%d", i)).LastState(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, final.Value, state.Value, "topic-%d", i)
	}
}

func TestChannel_SetDoesNotNotify(t *testing.T) {
	for name, b := range brokers(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ch := ItemAndIntegration[string](b, "dnsHole", "pihole-1")
			updates, stop, err := ch.Subscribe(ctx)
			require.NoError(t, err)
			defer stop()

			require.NoError(t, ch.Set(ctx, "warm"))

			got, ok, err := ch.LastState(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "warm", got.Value)

			select {
			case v := <-updates:
				t.Fatalf("Set notified subscriber with %v", v)
			case <-time.After(100 * time.Millisecond):
			}
		})
	}
}

func TestChannel_Subscribe(t *testing.T) {
	for name, b := range brokers(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ch := ItemAndIntegration[queueSnapshot](b, "downloads", "sab-2")
			updates, stop, err := ch.Subscribe(ctx)
			require.NoError(t, err)

			require.NoError(t, ch.PublishAndUpdateLastState(ctx, queueSnapshot{Slots: []string{"x"}}))

			select {
			case v := <-updates:
				assert.Equal(t, []string{"x"}, v.Value.Slots)
			case <-time.After(2 * time.Second):
				t.Fatal("timeout waiting for update")
			}

			stop()
			require.Eventually(t, func() bool {
				select {
				case _, ok := <-updates:
					return !ok
				default:
					return false
				}
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestChannel_SubscribeSkipsUndecodablePayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBroker()
	ch := Named[queueSnapshot](b, "t")
	updates, stop, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, b.Publish(ctx, "t", []byte("not json")))
	require.NoError(t, ch.PublishAndUpdateLastState(ctx, queueSnapshot{Paused: true}))

	select {
	case v := <-updates:
		assert.True(t, v.Value.Paused)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for update")
	}
}

func TestList_AddGetAllClear(t *testing.T) {
	for name, b := range brokers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			urls := NewList[string](b, "pingUrl")

			require.NoError(t, urls.Add(ctx, "https://a.example"))
			require.NoError(t, urls.Add(ctx, "https://b.example"))
			require.NoError(t, urls.Add(ctx, "https://a.example"))

			got, err := urls.GetAll(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"https://a.example", "https://b.example"}, got)

			require.NoError(t, urls.Remove(ctx, "https://a.example", "https://missing.example"))
			got, err = urls.GetAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"https://b.example"}, got)

			require.NoError(t, urls.Clear(ctx))
			got, err = urls.GetAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

// failingBroker fails every key-value write.
type failingBroker struct {
	*MemoryBroker
}

func (failingBroker) SetState(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func TestChannel_PublishErrorCarriesTopic(t *testing.T) {
	b := failingBroker{NewMemoryBroker()}
	ch := ItemAndIntegration[int](b, "downloads", "sab-3")

	err := ch.PublishAndUpdateLastState(context.Background(), 1)
	require.Error(t, err)

	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, Topic("downloads", "sab-3"), pubErr.Topic)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRedisBroker_KeyLayout(t *testing.T) {
	b, mr := newRedisBroker(t)
	ctx := context.Background()

	require.NoError(t, b.SetState(ctx, "item:x:integration:1", []byte("v")))
	require.NoError(t, b.ListAdd(ctx, "pingUrl", []byte("u")))

	got, err := mr.Get(DefaultRedisPrefix + "state:item:x:integration:1")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	members, err := mr.Members(DefaultRedisPrefix + "list:pingUrl")
	require.NoError(t, err)
	assert.Equal(t, []string{"u"}, members)
}

func TestRedisBroker_Unreachable(t *testing.T) {
	b, mr := newRedisBroker(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := Named[int](b, "t").PublishAndUpdateLastState(ctx, 1)
	var pubErr *PublishError
	assert.ErrorAs(t, err, &pubErr)
}
