package hub

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/f1-relay/internal/feed"
)

func testClient(id int64) *Client {
	server, _ := net.Pipe()
	return newClient(id, server, "127.0.0.1")
}

func TestSubscriptionIndex_AddGetRemove(t *testing.T) {
	idx := NewSubscriptionIndex()
	c1, c2 := testClient(1), testClient(2)

	idx.Add(feed.KindTimingData, c1)
	idx.Add(feed.KindTimingData, c2)

	got := idx.Get(feed.KindTimingData)
	require.Len(t, got, 2)

	idx.Remove(feed.KindTimingData, c1)
	got = idx.Get(feed.KindTimingData)
	require.Len(t, got, 1)
	assert.Same(t, c2, got[0])

	idx.Remove(feed.KindTimingData, c2)
	assert.Empty(t, idx.Get(feed.KindTimingData), "removing the last subscriber drops the feed entry entirely")
}

func TestSubscriptionIndex_AddIsIdempotent(t *testing.T) {
	idx := NewSubscriptionIndex()
	c1 := testClient(1)
	idx.Add(feed.KindPosition, c1)
	idx.Add(feed.KindPosition, c1)
	assert.Len(t, idx.Get(feed.KindPosition), 1, "adding the same client twice must not duplicate it")
}

func TestSubscriptionIndex_RemoveClient(t *testing.T) {
	idx := NewSubscriptionIndex()
	c1 := testClient(1)
	idx.Add(feed.KindTimingData, c1)
	idx.Add(feed.KindCarData, c1)
	idx.Add(feed.KindWeather, c1)

	idx.RemoveClient(c1)

	assert.Empty(t, idx.Get(feed.KindTimingData))
	assert.Empty(t, idx.Get(feed.KindCarData))
	assert.Empty(t, idx.Get(feed.KindWeather))
}

func TestSubscriptionSet(t *testing.T) {
	s := NewSubscriptionSet()
	assert.False(t, s.Has(feed.KindWeather))
	s.Add(feed.KindWeather)
	assert.True(t, s.Has(feed.KindWeather))
	s.Remove(feed.KindWeather)
	assert.False(t, s.Has(feed.KindWeather))
}
