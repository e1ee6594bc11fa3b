// Package cache implements the two-tier CacheTier of spec §4.4: an L1
// in-process LRU (github.com/hashicorp/golang-lru/v2) with write-through
// best-effort fan-out to an L2 remote store (github.com/redis/go-redis/v9),
// transparent failover, and size-threshold compression.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/adred-codev/f1-relay/internal/errs"
	"github.com/adred-codev/f1-relay/internal/platform/logging"
)

type l1Entry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration
}

func (e l1Entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// Stats is the running counter set CacheTier exposes; the health
// endpoint reads its hit rate (spec §4.4 "statistics tracked").
type Stats struct {
	L1Hits    atomic.Int64
	L2Hits    atomic.Int64
	Misses    atomic.Int64
	Writes    atomic.Int64
	Errors    atomic.Int64
	Failovers atomic.Int64
	Ops       atomic.Int64
}

// HitRate returns (L1+L2 hits)/total ops, 0 when no ops have occurred.
func (s *Stats) HitRate() float64 {
	ops := s.Ops.Load()
	if ops == 0 {
		return 0
	}
	return float64(s.L1Hits.Load()+s.L2Hits.Load()) / float64(ops)
}

// Config configures a Tier.
type Config struct {
	L1MaxEntries          int
	GlobalPrefix          string
	CompressionThresholdB int
	Algorithm             Algorithm
	FailoverEnabled       bool
	FallbackToMemory      bool
	HealthCheckInterval   time.Duration
}

// SetOpts controls one Set call.
type SetOpts struct {
	TTL        time.Duration // zero means use the tag's default TTL
	MemoryOnly bool
}

// Tier is the two-level cache. All tiering, failover, and compression
// decisions are internal; callers never reach into L2 directly (spec
// §3 ownership rule).
type Tier struct {
	cfg    Config
	logger zerolog.Logger

	l1     *lru.Cache[string, l1Entry]
	l1mu   sync.Mutex
	tagKeys map[Tag]map[string]struct{} // tracked alongside l1 so FlushTag is O(size-of-tag)

	l2        *redis.Client
	l2mu      sync.RWMutex
	failover  atomic.Bool

	Stats Stats

	stopHealth chan struct{}
}

// New builds a Tier. l2 may be nil, in which case the tier runs
// memory-only from the start (no L2 configured).
func New(cfg Config, l2 *redis.Client, logger zerolog.Logger) (*Tier, error) {
	if cfg.L1MaxEntries <= 0 {
		cfg.L1MaxEntries = 10000
	}
	l1, err := lru.New[string, l1Entry](cfg.L1MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("l1 cache init failed: %w", err)
	}
	t := &Tier{
		cfg:        cfg,
		logger:     logger,
		l1:         l1,
		tagKeys:    make(map[Tag]map[string]struct{}),
		l2:         l2,
		stopHealth: make(chan struct{}),
	}
	if l2 == nil {
		t.failover.Store(true)
	}
	return t, nil
}

func l1Key(tag Tag, key string) string { return string(tag) + ":" + key }

func (t *Tier) l2Key(tag Tag, key string) string {
	return t.cfg.GlobalPrefix + string(tag) + ":" + key
}

func (t *Tier) trackKey(tag Tag, k string) {
	t.l1mu.Lock()
	defer t.l1mu.Unlock()
	set, ok := t.tagKeys[tag]
	if !ok {
		set = make(map[string]struct{})
		t.tagKeys[tag] = set
	}
	set[k] = struct{}{}
}

func (t *Tier) untrackKey(tag Tag, k string) {
	t.l1mu.Lock()
	defer t.l1mu.Unlock()
	if set, ok := t.tagKeys[tag]; ok {
		delete(set, k)
	}
}

// Get reads L1 first; on miss, if L2 is available, reads L2 and
// back-fills L1. Returns (nil, false) on a total miss. Never returns
// an error to the caller — L2 faults degrade to a miss and raise
// failover (spec §4.4 failure semantics).
func (t *Tier) Get(ctx context.Context, tag Tag, key string) (any, bool) {
	t.Stats.Ops.Add(1)
	k := l1Key(tag, key)

	if entry, ok := t.l1.Get(k); ok {
		if !entry.expired(time.Now()) {
			t.Stats.L1Hits.Add(1)
			return entry.value, true
		}
		t.l1.Remove(k)
		t.untrackKey(tag, key)
	}

	if !t.l2Available() {
		t.Stats.Misses.Add(1)
		return nil, false
	}

	raw, compressed, err := t.l2Get(ctx, tag, key)
	if err != nil {
		t.raiseFailover(err)
		t.Stats.Misses.Add(1)
		return nil, false
	}
	if raw == nil {
		t.Stats.Misses.Add(1)
		return nil, false
	}

	value, err := decodeValue(raw, compressed, t.cfg.Algorithm)
	if err != nil {
		t.Stats.Errors.Add(1)
		t.logger.Error().Err(err).Str("tag", string(tag)).Msg("cache decompression failed")
		t.Stats.Misses.Add(1)
		return nil, false
	}

	t.l1.Add(k, l1Entry{value: value, createdAt: time.Now(), ttl: tag.defaultTTL()})
	t.trackKey(tag, key)
	t.Stats.L2Hits.Add(1)
	return value, true
}

// Set always writes L1; writes L2 unless MemoryOnly is set or
// failover is active. L1 writes never fail (spec invariant).
func (t *Tier) Set(ctx context.Context, tag Tag, key string, value any, opts SetOpts) {
	t.Stats.Ops.Add(1)
	t.Stats.Writes.Add(1)

	ttl := opts.TTL
	if ttl == 0 {
		ttl = tag.defaultTTL()
	}
	k := l1Key(tag, key)
	t.l1.Add(k, l1Entry{value: value, createdAt: time.Now(), ttl: ttl})
	t.trackKey(tag, key)

	if opts.MemoryOnly || !t.l2Available() {
		return
	}
	if err := t.l2Set(ctx, tag, key, value, ttl); err != nil {
		t.raiseFailover(err)
	}
}

// Delete removes key from both tiers.
func (t *Tier) Delete(ctx context.Context, tag Tag, key string) {
	t.l1.Remove(l1Key(tag, key))
	t.untrackKey(tag, key)
	if t.l2Available() {
		if err := t.l2.Del(ctx, t.l2Key(tag, key)).Err(); err != nil {
			t.raiseFailover(err)
		}
	}
}

// MGet reads every key through Get: L1 first, then a separate L2 read
// (with L1 back-fill) for each key that missed L1. No batched L2
// request is issued.
func (t *Tier) MGet(ctx context.Context, tag Tag, keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	var miss []string
	for _, key := range keys {
		if v, ok := t.Get(ctx, tag, key); ok {
			out[key] = v
		} else {
			miss = append(miss, key)
		}
	}
	_ = miss // per-key Get already attempted L2 fallback and backfilled L1
	return out
}

// MSet writes every key through Set, so each key gets its own L2
// write; the keys are not sent to L2 as one batch.
func (t *Tier) MSet(ctx context.Context, tag Tag, values map[string]any, opts SetOpts) {
	for k, v := range values {
		t.Set(ctx, tag, k, v, opts)
	}
}

// FlushTag removes every L1 entry tracked under tag, then issues a
// tag-prefixed delete against L2 if available.
func (t *Tier) FlushTag(ctx context.Context, tag Tag) {
	t.l1mu.Lock()
	keys := make([]string, 0, len(t.tagKeys[tag]))
	for k := range t.tagKeys[tag] {
		keys = append(keys, k)
	}
	delete(t.tagKeys, tag)
	t.l1mu.Unlock()

	for _, k := range keys {
		t.l1.Remove(l1Key(tag, k))
	}

	if !t.l2Available() {
		return
	}
	pattern := t.cfg.GlobalPrefix + string(tag) + ":*"
	iter := t.l2.Scan(ctx, 0, pattern, 1000).Iterator()
	var toDelete []string
	for iter.Next(ctx) {
		toDelete = append(toDelete, iter.Val())
	}
	if err := iter.Err(); err != nil {
		t.raiseFailover(err)
		return
	}
	if len(toDelete) > 0 {
		if err := t.l2.Del(ctx, toDelete...).Err(); err != nil {
			t.raiseFailover(err)
		}
	}
}

// FlushAll clears every tag, then purges L1. L1 removals cannot fail,
// so FlushAll neither returns an error nor panics; L2 faults raise
// failover as in FlushTag.
func (t *Tier) FlushAll(ctx context.Context) {
	t.l1mu.Lock()
	tags := make([]Tag, 0, len(t.tagKeys))
	for tag := range t.tagKeys {
		tags = append(tags, tag)
	}
	t.l1mu.Unlock()
	for _, tag := range tags {
		t.FlushTag(ctx, tag)
	}
	t.l1.Purge()
}

func (t *Tier) l2Available() bool {
	return t.l2 != nil && !t.failover.Load()
}

// FailoverActive reports whether L2 calls are currently short-circuited.
func (t *Tier) FailoverActive() bool { return t.failover.Load() }

func (t *Tier) raiseFailover(err error) {
	t.Stats.Errors.Add(1)
	if !t.cfg.FailoverEnabled {
		t.logger.Error().Err(err).Msg("cache L2 error (failover disabled, retrying L2 on next call)")
		return
	}
	if t.failover.CompareAndSwap(false, true) {
		t.Stats.Failovers.Add(1)
		t.logger.Error().Err(err).Msg("cache L2 failover raised, degrading to memory-only")
	}
}

// ClearFailover is invoked by the background health check on a
// successful out-of-band reconnect; it optionally back-syncs L1 to L2.
func (t *Tier) ClearFailover(ctx context.Context, backSync bool) {
	if !t.failover.CompareAndSwap(true, false) {
		return
	}
	t.logger.Info().Msg("cache L2 recovered, failover cleared")
	if !backSync {
		return
	}
	t.l1mu.Lock()
	snapshot := make(map[Tag][]string, len(t.tagKeys))
	for tag, set := range t.tagKeys {
		ks := make([]string, 0, len(set))
		for k := range set {
			ks = append(ks, k)
		}
		snapshot[tag] = ks
	}
	t.l1mu.Unlock()

	for tag, keys := range snapshot {
		for _, k := range keys {
			if entry, ok := t.l1.Get(l1Key(tag, k)); ok {
				if err := t.l2Set(ctx, tag, k, entry.value, entry.ttl); err != nil {
					t.raiseFailover(err)
					return
				}
			}
		}
	}
}

// StartHealthCheck runs a periodic L2 PING and clears failover on
// success, the same periodic resource/health sampling pattern as
// ws/internal/shared/limits/resource_guard.go.
func (t *Tier) StartHealthCheck(ctx context.Context) {
	if t.cfg.HealthCheckInterval <= 0 || t.l2 == nil {
		return
	}
	ticker := time.NewTicker(t.cfg.HealthCheckInterval)
	go func() {
		defer logging.RecoverPanic(t.logger, "cache-health-check", nil)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopHealth:
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := t.l2.Ping(pingCtx).Err()
				cancel()
				if err == nil {
					t.ClearFailover(ctx, t.cfg.FallbackToMemory)
				} else {
					t.raiseFailover(err)
				}
			}
		}
	}()
}

// Close stops background loops.
func (t *Tier) Close() {
	close(t.stopHealth)
}

func (t *Tier) l2Get(ctx context.Context, tag Tag, key string) ([]byte, bool, error) {
	res, err := t.l2.HGetAll(ctx, t.l2Key(tag, key)).Result()
	if err == redis.Nil || len(res) == 0 {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(res["v"]), res["c"] == "1", nil
}

func (t *Tier) l2Set(ctx context.Context, tag Tag, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &errs.CacheError{Kind: errs.CacheCompression, Err: err}
	}
	compressed := false
	if t.cfg.CompressionThresholdB > 0 && len(raw) > t.cfg.CompressionThresholdB {
		c, err := compress(t.cfg.Algorithm, raw)
		if err != nil {
			return &errs.CacheError{Kind: errs.CacheCompression, Err: err}
		}
		raw = c
		compressed = true
	}

	k := t.l2Key(tag, key)
	pipe := t.l2.TxPipeline()
	pipe.HSet(ctx, k, "v", raw, "c", boolFlag(compressed))
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func decodeValue(raw []byte, compressed bool, algo Algorithm) (any, error) {
	if compressed {
		plain, err := decompress(algo, raw)
		if err != nil {
			return nil, &errs.CacheError{Kind: errs.CacheDecompression, Err: err}
		}
		raw = plain
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &errs.CacheError{Kind: errs.CacheDecompression, Err: err}
	}
	return v, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
