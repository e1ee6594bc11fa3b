// Package errs defines the structured error kinds bubbled across the
// relay's component boundaries. Components return these instead of
// panicking or returning bare fmt.Errorf strings, so callers can switch
// on Kind instead of matching error text.
package errs

import "fmt"

// UpstreamKind enumerates UpstreamClient failure classes.
type UpstreamKind int

const (
	UpstreamNegotiation UpstreamKind = iota
	UpstreamTransport
	UpstreamStart
	UpstreamMaxRetries
	UpstreamParse
)

func (k UpstreamKind) String() string {
	switch k {
	case UpstreamNegotiation:
		return "Negotiation"
	case UpstreamTransport:
		return "Transport"
	case UpstreamStart:
		return "Start"
	case UpstreamMaxRetries:
		return "MaxRetries"
	case UpstreamParse:
		return "Parse"
	default:
		return "Unknown"
	}
}

// UpstreamError is bubbled from internal/upstream.
type UpstreamError struct {
	Kind       UpstreamKind
	HTTPStatus int // set for Negotiation/Start failures, else 0
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("upstream %s error (http %d): %v", e.Kind, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("upstream %s error: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// CacheKind enumerates CacheTier failure classes.
type CacheKind int

const (
	CacheL2Unavailable CacheKind = iota
	CacheCompression
	CacheDecompression
	CacheTimeout
)

func (k CacheKind) String() string {
	switch k {
	case CacheL2Unavailable:
		return "L2Unavailable"
	case CacheCompression:
		return "Compression"
	case CacheDecompression:
		return "Decompression"
	case CacheTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// CacheError is logged and counted by CacheTier; L2Unavailable raises
// failover but is never returned to callers (degrades to memory-only).
type CacheError struct {
	Kind CacheKind
	Err  error
}

func (e *CacheError) Error() string { return fmt.Sprintf("cache %s error: %v", e.Kind, e.Err) }
func (e *CacheError) Unwrap() error { return e.Err }

// SubscriptionKind enumerates per-connection failure classes surfaced
// only to the offending connection.
type SubscriptionKind int

const (
	SubscriptionInvalidFeed SubscriptionKind = iota
	SubscriptionRateLimited
	SubscriptionConnectionCap
	SubscriptionOriginDenied
	SubscriptionUserAgentInvalid
)

func (k SubscriptionKind) String() string {
	switch k {
	case SubscriptionInvalidFeed:
		return "InvalidFeed"
	case SubscriptionRateLimited:
		return "RateLimited"
	case SubscriptionConnectionCap:
		return "ConnectionCap"
	case SubscriptionOriginDenied:
		return "OriginDenied"
	case SubscriptionUserAgentInvalid:
		return "UserAgentInvalid"
	default:
		return "Unknown"
	}
}

// SubscriptionError is surfaced to the offending connection only, never
// torn down to the whole hub.
type SubscriptionError struct {
	Kind    SubscriptionKind
	Message string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s error: %s", e.Kind, e.Message)
}

// InternalError marks an impossible state (e.g. subscription index
// inconsistency). It is fatal to the affected connection/session only,
// never to the process.
type InternalError struct {
	Invariant string
}

func (e *InternalError) Error() string { return fmt.Sprintf("internal invariant violated: %s", e.Invariant) }
