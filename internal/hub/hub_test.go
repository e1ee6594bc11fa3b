package hub

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/f1-relay/internal/cache"
	"github.com/adred-codev/f1-relay/internal/feed"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	tier, err := cache.New(cache.Config{L1MaxEntries: 100}, nil, zerolog.Nop())
	require.NoError(t, err)
	return New(Config{
		HeartbeatInterval:   time.Hour,
		MaxConnectionsPerIP: 5,
		MaxEventsPerMinute:  100,
	}, tier, zerolog.Nop())
}

func TestBroadcastToFeed_NoSubscribersIsNoop(t *testing.T) {
	h := testHub(t)
	// Must not panic or block with zero subscribers.
	h.BroadcastToFeed(feed.KindTimingData, map[string]any{"x": 1})
}

func TestBroadcastToFeed_DeliversToSubscriber(t *testing.T) {
	h := testHub(t)
	c := testClient(1)
	h.index.Add(feed.KindWeather, c)

	h.BroadcastToFeed(feed.KindWeather, map[string]any{"airTemp": 21.0})

	select {
	case msg := <-c.send:
		assert.Contains(t, string(msg), "feed:Weather")
	default:
		t.Fatal("expected a message enqueued for the subscribed client")
	}
}

func TestThrottledBroadcast_DropsWithinInterval(t *testing.T) {
	h := testHub(t)
	c := testClient(1)
	h.index.Add(feed.KindPosition, c)

	h.ThrottledBroadcast(feed.KindPosition, map[string]any{"n": 1}, 1000)
	<-c.send // drain the first delivery

	h.ThrottledBroadcast(feed.KindPosition, map[string]any{"n": 2}, 1000)
	select {
	case <-c.send:
		t.Fatal("a second broadcast within the throttle interval must be dropped")
	default:
	}
}

func TestThrottledBroadcast_ZeroIntervalAlwaysDelivers(t *testing.T) {
	h := testHub(t)
	c := testClient(1)
	h.index.Add(feed.KindCarData, c)

	h.ThrottledBroadcast(feed.KindCarData, 1, 0)
	h.ThrottledBroadcast(feed.KindCarData, 2, 0)

	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			assert.Equal(t, 2, count, "minIntervalMs<=0 delivers every broadcast")
			return
		}
	}
}

func TestEnqueue_ThreeStrikesDisconnects(t *testing.T) {
	h := testHub(t)
	c := testClient(1)
	h.clientsMu.Lock()
	h.clients[c.id] = c
	h.clientsMu.Unlock()

	// Fill the send buffer so every subsequent enqueue is a blocked strike.
	for i := 0; i < cap(c.send); i++ {
		c.send <- []byte("x")
	}

	h.enqueue(c, []byte("1"))
	h.enqueue(c, []byte("2"))
	h.enqueue(c, []byte("3"))

	h.clientsMu.RLock()
	_, stillPresent := h.clients[c.id]
	h.clientsMu.RUnlock()
	assert.False(t, stillPresent, "three consecutive blocked sends must disconnect the slow client")
}

func TestHandleSubscribe_RejectsUnknownFeed(t *testing.T) {
	h := testHub(t)
	c := testClient(1)
	h.clientsMu.Lock()
	h.clients[c.id] = c
	h.clientsMu.Unlock()

	h.handleSubscribe(c, "NotARealFeed")

	select {
	case msg := <-c.send:
		assert.Contains(t, string(msg), "subscription:error")
	default:
		t.Fatal("expected a subscription:error reply")
	}
	assert.False(t, c.subscriptions.Has(feed.Kind("NotARealFeed")))
}

func TestHandleSubscribe_AcceptsKnownFeed(t *testing.T) {
	h := testHub(t)
	c := testClient(1)

	h.handleSubscribe(c, string(feed.KindTimingData))

	assert.True(t, c.subscriptions.Has(feed.KindTimingData))
	assert.Len(t, h.index.Get(feed.KindTimingData), 1)
	<-c.send // subscription:confirmed
}
