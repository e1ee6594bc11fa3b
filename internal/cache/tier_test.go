package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryTier(t *testing.T) *Tier {
	t.Helper()
	tier, err := New(Config{L1MaxEntries: 100, Algorithm: AlgorithmLZ4}, nil, zerolog.Nop())
	require.NoError(t, err)
	return tier
}

func TestNew_NilL2StartsInFailover(t *testing.T) {
	tier := memoryTier(t)
	assert.True(t, tier.FailoverActive(), "a Tier built with no L2 client runs memory-only from the start")
}

func TestSetGet_L1RoundTrip(t *testing.T) {
	tier := memoryTier(t)
	ctx := context.Background()

	tier.Set(ctx, TagTiming, "current", map[string]any{"lap": 5.0}, SetOpts{})
	v, ok := tier.Get(ctx, TagTiming, "current")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"lap": 5.0}, v)
	assert.Equal(t, int64(1), tier.Stats.L1Hits.Load())
}

func TestGet_Miss(t *testing.T) {
	tier := memoryTier(t)
	_, ok := tier.Get(context.Background(), TagTiming, "nonexistent")
	assert.False(t, ok)
	assert.Equal(t, int64(1), tier.Stats.Misses.Load())
}

func TestGet_ExpiredEntryEvicted(t *testing.T) {
	tier := memoryTier(t)
	ctx := context.Background()
	tier.Set(ctx, TagPosition, "current", "x", SetOpts{TTL: time.Millisecond})
	time.Sleep(5 * time.Millisecond)
	_, ok := tier.Get(ctx, TagPosition, "current")
	assert.False(t, ok, "an expired L1 entry must not be returned")
}

func TestDelete(t *testing.T) {
	tier := memoryTier(t)
	ctx := context.Background()
	tier.Set(ctx, TagWeather, "current", "rain", SetOpts{})
	tier.Delete(ctx, TagWeather, "current")
	_, ok := tier.Get(ctx, TagWeather, "current")
	assert.False(t, ok)
}

func TestFlushTag_OnlyAffectsOneTag(t *testing.T) {
	tier := memoryTier(t)
	ctx := context.Background()
	tier.Set(ctx, TagWeather, "current", "rain", SetOpts{})
	tier.Set(ctx, TagTrack, "current", "green", SetOpts{})

	tier.FlushTag(ctx, TagWeather)

	_, ok := tier.Get(ctx, TagWeather, "current")
	assert.False(t, ok)
	_, ok = tier.Get(ctx, TagTrack, "current")
	assert.True(t, ok, "FlushTag must not touch other tags")
}

func TestFlushAll(t *testing.T) {
	tier := memoryTier(t)
	ctx := context.Background()
	tier.Set(ctx, TagWeather, "current", "rain", SetOpts{})
	tier.Set(ctx, TagTrack, "current", "green", SetOpts{})

	tier.FlushAll(ctx)

	_, ok := tier.Get(ctx, TagWeather, "current")
	assert.False(t, ok)
	_, ok = tier.Get(ctx, TagTrack, "current")
	assert.False(t, ok)
}

func TestTagDefaultTTL(t *testing.T) {
	assert.Equal(t, 60*time.Second, TagTiming.defaultTTL())
	assert.Equal(t, 10*time.Second, TagPosition.defaultTTL())
	assert.Equal(t, 300*time.Second, Tag("unknown").defaultTTL())
}

func TestCompressDecompress_RoundTrip(t *testing.T) {
	data := []byte(`{"hello":"world","n":123}`)
	for _, algo := range []Algorithm{AlgorithmLZ4, AlgorithmGzip} {
		compressed, err := compress(algo, data)
		require.NoError(t, err)
		plain, err := decompress(algo, compressed)
		require.NoError(t, err)
		assert.Equal(t, data, plain, "algorithm %s must round-trip", algo)
	}
}
