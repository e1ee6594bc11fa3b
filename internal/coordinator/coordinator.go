// Package coordinator wires UpstreamClient, Normalizer, DriverState,
// CacheTier, and SubscriberHub together (spec §4.7). It is the sole
// writer of DriverState and of CacheTier writes driven by upstream
// events, matching the single-writer discipline of spec §5.
package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/f1-relay/internal/cache"
	"github.com/adred-codev/f1-relay/internal/driverstate"
	"github.com/adred-codev/f1-relay/internal/eventbus"
	"github.com/adred-codev/f1-relay/internal/feed"
	"github.com/adred-codev/f1-relay/internal/hub"
	"github.com/adred-codev/f1-relay/internal/normalize"
	"github.com/adred-codev/f1-relay/internal/platform/logging"
	"github.com/adred-codev/f1-relay/internal/upstream"
)

// domainTags maps a request:<domain> name to its CacheTier typeTag,
// used by GetCurrent, ClearCache, and the disconnect recovery snapshot
// (spec §4.7, §4.5).
var domainTags = map[string]cache.Tag{
	"session":  cache.TagSession,
	"drivers":  cache.TagDrivers,
	"timing":   cache.TagTiming,
	"weather":  cache.TagWeather,
	"track":    cache.TagTrack,
	"position": cache.TagPosition,
}

// ThrottleConfig sets the throttled-broadcast intervals for the
// high-rate domains named in spec §4.7.
type ThrottleConfig struct {
	PositionMs int
	CarDataMs  int
}

// Coordinator is the relay's central wiring point.
type Coordinator struct {
	logger zerolog.Logger

	up    *upstream.Client
	norm  *normalize.Normalizer
	state *driverstate.State
	cache *cache.Tier
	hub   *hub.Hub
	bus   *eventbus.Publisher

	throttle ThrottleConfig
}

// New builds a Coordinator from its already-constructed collaborators.
func New(up *upstream.Client, norm *normalize.Normalizer, state *driverstate.State, tier *cache.Tier, h *hub.Hub, throttle ThrottleConfig, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{up: up, norm: norm, state: state, cache: tier, hub: h, throttle: throttle, logger: logger}
	h.SetStore(c)
	return c
}

// SetEventBus attaches the optional NATS publish tap. Safe to leave
// unset; every publishEvent call is then a no-op via the nil-receiver
// methods on *eventbus.Publisher.
func (c *Coordinator) SetEventBus(bus *eventbus.Publisher) {
	c.bus = bus
}

// publishEvent mirrors a canonical event onto the event bus, additive
// to the direct broadcast path (spec §4.7 enrichment, never a
// dependency of it).
func (c *Coordinator) publishEvent(kind feed.Kind, body any) {
	c.bus.Publish("f1.events."+string(kind), body)
}

// Run drives the upstream frame and state-change channels until ctx
// is cancelled. Intended to be called in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	defer logging.RecoverPanic(c.logger, "coordinator", nil)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.up.Frames():
			if !ok {
				return
			}
			c.handleFrame(ctx, frame)
		case state, ok := <-c.up.States():
			if !ok {
				return
			}
			c.handleStateChange(ctx, state)
		case err, ok := <-c.up.Errors():
			if !ok {
				return
			}
			c.logger.Warn().Str("kind", err.Kind.String()).Err(err).Msg("upstream error")
		}
	}
}

func (c *Coordinator) handleFrame(ctx context.Context, f feed.Frame) {
	event, ok := c.norm.Normalize(f)
	if !ok {
		return // duplicate timestamp, dropped per spec §4.2
	}

	switch event.FeedName {
	case feed.KindTimingData:
		snap := event.Body.(normalize.TimingSnapshot)
		now := time.Now().UnixNano()
		for _, line := range snap.Lines {
			c.state.Merge(line, now)
		}
		c.cache.Set(ctx, cache.TagTiming, "current", snap, cache.SetOpts{})
		c.cache.Set(ctx, cache.TagDrivers, "current", c.state.Ordered(), cache.SetOpts{})
		c.hub.BroadcastToFeed(feed.KindTimingData, snap)
		c.hub.BroadcastToFeed(feed.KindDriverList, c.state.Ordered())
		c.publishEvent(feed.KindTimingData, snap)
	case feed.KindCarData:
		c.cache.Set(ctx, cache.TagTelemetry, "cardata", event.Body, cache.SetOpts{MemoryOnly: true})
		c.hub.ThrottledBroadcast(feed.KindCarData, event.Body, c.throttle.CarDataMs)
	case feed.KindPosition:
		c.cache.Set(ctx, cache.TagPosition, "current", event.Body, cache.SetOpts{})
		c.hub.ThrottledBroadcast(feed.KindPosition, event.Body, c.throttle.PositionMs)
	case feed.KindWeather:
		c.cache.Set(ctx, cache.TagWeather, "current", event.Body, cache.SetOpts{})
		c.hub.BroadcastToFeed(feed.KindWeather, event.Body)
		c.publishEvent(feed.KindWeather, event.Body)
	case feed.KindTrackStatus:
		c.cache.Set(ctx, cache.TagTrack, "current", event.Body, cache.SetOpts{})
		c.hub.BroadcastToFeed(feed.KindTrackStatus, event.Body)
		c.publishEvent(feed.KindTrackStatus, event.Body)
	case feed.KindSessionInfo, feed.KindSessionData:
		c.cache.Set(ctx, cache.TagSession, "current", event.Body, cache.SetOpts{})
		c.hub.BroadcastToFeed(event.FeedName, event.Body)
		c.publishEvent(event.FeedName, event.Body)
	case feed.KindDriverList:
		c.cache.Set(ctx, cache.TagDrivers, "list", event.Body, cache.SetOpts{})
		c.hub.BroadcastToFeed(feed.KindDriverList, event.Body)
	case feed.KindRaceControl:
		c.hub.BroadcastToFeed(feed.KindRaceControl, event.Body)
		c.publishEvent(feed.KindRaceControl, event.Body)
	case feed.KindHeartbeat:
		// passes through as a standalone kind, no cache write (spec §4.2)
	default:
		c.hub.BroadcastToFeed(event.FeedName, event.Body)
	}
}

func (c *Coordinator) handleStateChange(ctx context.Context, s upstream.ConnState) {
	switch s {
	case upstream.Reconnecting:
		c.snapshotOnDisconnect(ctx)
	case upstream.Connected:
		c.recoverOnReconnect(ctx)
	}
}

// snapshotOnDisconnect reads all six domain values from CacheTier and
// writes a recovery:last_state snapshot with a one-hour TTL (spec
// §4.7).
func (c *Coordinator) snapshotOnDisconnect(ctx context.Context) {
	snapshot := make(map[string]any, len(domainTags))
	for domain, tag := range domainTags {
		if v, ok := c.cache.Get(ctx, tag, "current"); ok {
			snapshot[domain] = v
		}
	}
	c.cache.Set(ctx, cache.TagRecovery, "last_state", snapshot, cache.SetOpts{TTL: time.Hour})
}

// recoverOnReconnect reads the snapshot, invokes hub recovery, then
// resubscribes all feeds (spec §4.7).
func (c *Coordinator) recoverOnReconnect(ctx context.Context) {
	v, ok := c.cache.Get(ctx, cache.TagRecovery, "last_state")
	if ok {
		if snapshot, ok := v.(map[string]any); ok {
			c.hub.Recover(snapshot)
		}
	}
	c.up.Subscribe(
		feed.KindSessionInfo, feed.KindDriverList, feed.KindTimingData,
		feed.KindCarData, feed.KindPosition, feed.KindWeather,
		feed.KindTrackStatus, feed.KindSessionData, feed.KindRaceControl,
		feed.KindHeartbeat,
	)
}

// GetCurrent reads the current cached value for a domain, used by the
// hub's request:<domain> handlers (spec §4.7, §4.5).
func (c *Coordinator) GetCurrent(domain string) (any, bool) {
	tag, ok := domainTags[domain]
	if !ok {
		return nil, false
	}
	return c.cache.Get(context.Background(), tag, "current")
}

// ClearCache flushes one domain's cache tag, or every tag when domain
// is empty.
func (c *Coordinator) ClearCache(ctx context.Context, domain string) {
	if domain == "" {
		c.cache.FlushAll(ctx)
		return
	}
	if tag, ok := domainTags[domain]; ok {
		c.cache.FlushTag(ctx, tag)
	}
}
