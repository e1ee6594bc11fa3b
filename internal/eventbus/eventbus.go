// Package eventbus is an optional, additive publish tap onto NATS: the
// Coordinator mirrors each canonical event here so a second relay
// instance or an offline recorder can observe the stream without
// speaking the SubscriberHub wire protocol. Grounded on
// go-server/pkg/nats/client.go's connection-handler wiring, trimmed to
// publish-only since nothing in this relay subscribes back.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config controls the optional NATS connection. URL empty disables the
// bus entirely; Connect then returns a nil *Publisher.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Publisher wraps a NATS connection for fire-and-forget JSON publishes.
// A nil *Publisher is valid and every method on it is a no-op, so
// callers never need to branch on whether the bus is configured.
type Publisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials NATS per cfg. Returns (nil, nil) when cfg.URL is empty,
// matching the core's "additive, never required" rule for this
// component (spec-adjacent enrichment, not a core dependency).
func Connect(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1 // retry forever, matching go-server/pkg/nats's intent
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait == 0 {
		reconnectWait = 2 * time.Second
	}

	p := &Publisher{logger: logger}
	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn().Err(err).Msg("eventbus disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info().Str("url", nc.ConnectedUrl()).Msg("eventbus reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			p.logger.Error().Err(err).Msg("eventbus error")
		}),
	)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// Publish marshals v and fires it at subject, best-effort. A publish
// failure is logged, never propagated — this tap must never affect the
// core broadcast path.
func (p *Publisher) Publish(subject string, v any) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("eventbus marshal failed")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("eventbus publish failed")
	}
}

// Close closes the connection without draining it, a no-op on a nil
// or unconfigured Publisher.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
