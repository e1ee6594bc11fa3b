// Package feed defines the closed set of upstream feed kinds and the raw
// and canonical record shapes that flow from UpstreamClient through
// Normalizer to Coordinator.
package feed

import "time"

// Kind is the closed set of upstream feed names.
type Kind string

const (
	KindSessionInfo Kind = "SessionInfo"
	KindDriverList  Kind = "DriverList"
	KindTimingData  Kind = "TimingData"
	KindCarData     Kind = "CarData"
	KindPosition    Kind = "Position"
	KindWeather     Kind = "Weather"
	KindTrackStatus Kind = "TrackStatus"
	KindSessionData Kind = "SessionData"
	KindRaceControl Kind = "RaceControl"
	KindHeartbeat   Kind = "Heartbeat"
)

// Known reports whether k is one of the closed FeedKind set.
func Known(k Kind) bool {
	switch k {
	case KindSessionInfo, KindDriverList, KindTimingData, KindCarData,
		KindPosition, KindWeather, KindTrackStatus, KindSessionData,
		KindRaceControl, KindHeartbeat:
		return true
	}
	return false
}

// Frame is a raw frame as produced by UpstreamClient: an opaque payload
// plus the feed it arrived on and when. Immutable once produced.
type Frame struct {
	FeedName  Kind
	Payload   map[string]any
	Timestamp time.Time
}

// Event is the Normalizer's output: a structured record independent of
// upstream JSON quirks. Body holds the kind-specific canonical shape
// (a TimingSnapshot, CarDataSnapshot, GenericPayload, ...). Immutable.
type Event struct {
	FeedName  Kind
	Timestamp time.Time
	Body      any
}

// GenericPayload wraps an unknown feed name's raw payload unchanged,
// per the Normalizer's "unknown feed names produce a Generic event"
// edge case.
type GenericPayload struct {
	Raw map[string]any
}
