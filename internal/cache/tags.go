package cache

import "time"

// Tag is one of the fixed typeTags CacheTier understands (spec §3, §6).
type Tag string

const (
	TagSession      Tag = "session"
	TagDrivers      Tag = "drivers"
	TagTiming       Tag = "timing"
	TagWeather      Tag = "weather"
	TagTrack        Tag = "track"
	TagPosition     Tag = "position"
	TagTelemetry    Tag = "telemetry"
	TagRateLimit    Tag = "rate_limit"
	TagClientSession Tag = "client_session"
	TagRecovery     Tag = "recovery"
)

// defaultTTLs are the per-tag TTLs enumerated in spec §6. RateLimit has
// no default: a Set under it must pass its own TTL, or the entry never
// expires. The in-process ratelimit.Limiter does not store its windows
// in CacheTier.
var defaultTTLs = map[Tag]time.Duration{
	TagSession:       1800 * time.Second,
	TagDrivers:       600 * time.Second,
	TagTiming:        60 * time.Second,
	TagWeather:       120 * time.Second,
	TagTrack:         30 * time.Second,
	TagPosition:      10 * time.Second,
	TagTelemetry:     5 * time.Second,
	TagRateLimit:     0, // caller-supplied
	TagClientSession: 3600 * time.Second,
	TagRecovery:      3600 * time.Second,
}

func (t Tag) defaultTTL() time.Duration {
	if ttl, ok := defaultTTLs[t]; ok {
		return ttl
	}
	return 300 * time.Second
}
