// Package hub implements the SubscriberHub of spec §4.5: a registry of
// push-socket connections with per-connection subscriptions, admission
// control, throttled broadcast, and recovery snapshots. Transport is
// github.com/gobwas/ws, the same low-level WebSocket library the
// teacher repo's own server side uses
// (ws/internal/shared/handlers_ws.go, pump_read.go, pump_write.go).
package hub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/adred-codev/f1-relay/internal/cache"
	"github.com/adred-codev/f1-relay/internal/errs"
	"github.com/adred-codev/f1-relay/internal/feed"
	"github.com/adred-codev/f1-relay/internal/platform/logging"
	"github.com/adred-codev/f1-relay/internal/ratelimit"
)

const (
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// domains is the closed set of request:<domain> targets (spec §4.5).
var domains = map[string]cache.Tag{
	"session": cache.TagSession,
	"drivers": cache.TagDrivers,
	"timing":  cache.TagTiming,
	"weather": cache.TagWeather,
	"track":   cache.TagTrack,
	"position": cache.TagPosition,
}

// Store is the subset of Coordinator the hub needs for its
// request:<domain> handlers (spec §4.7 "Exposes GetCurrent(domain)").
type Store interface {
	GetCurrent(domain string) (any, bool)
}

// Config controls admission and rate behavior.
type Config struct {
	HeartbeatInterval   time.Duration
	MaxConnectionsPerIP int
	MaxEventsPerMinute  int
	AllowedOrigins      []string
	RequireOriginCheck  bool
	MinUserAgentLen     int
	ThrottlePositionMs  int
	ThrottleCarDataMs   int

	ConnAttemptGlobalRate  float64
	ConnAttemptGlobalBurst int
	ConnAttemptIPRate      float64
	ConnAttemptIPBurst     int
}

type throttleState struct {
	mu       sync.Mutex
	lastSent time.Time
}

// Hub is the SubscriberHub.
type Hub struct {
	cfg    Config
	logger zerolog.Logger
	cache  *cache.Tier
	store  Store

	clientsMu sync.RWMutex
	clients   map[int64]*Client
	nextID    atomic.Int64

	ipCountsMu sync.Mutex
	ipCounts   map[string]int
	admission  *connectionAdmitter

	index       *SubscriptionIndex
	eventLimits *ratelimit.Limiter

	throttleMu sync.Mutex
	throttles  map[feed.Kind]*throttleState

	shuttingDown atomic.Bool
	stopHeartbeat chan struct{}
}

// New builds a Hub. SetStore must be called before serving requests
// that use request:<domain>.
func New(cfg Config, tier *cache.Tier, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:           cfg,
		logger:        logger,
		cache:         tier,
		clients:       make(map[int64]*Client),
		ipCounts:      make(map[string]int),
		admission: newConnectionAdmitter(
			cfg.ConnAttemptGlobalBurst, cfg.ConnAttemptGlobalRate,
			cfg.ConnAttemptIPBurst, cfg.ConnAttemptIPRate,
		),
		index:         NewSubscriptionIndex(),
		eventLimits:   ratelimit.New(),
		throttles:     make(map[feed.Kind]*throttleState),
		stopHeartbeat: make(chan struct{}),
	}
}

// SetStore wires the Coordinator's read accessor after construction,
// avoiding an import cycle (Coordinator imports Hub).
func (h *Hub) SetStore(s Store) { h.store = s }

// Shutdown marks the hub as draining; new upgrades are rejected.
func (h *Hub) Shutdown() {
	h.shuttingDown.Store(true)
	close(h.stopHeartbeat)
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// StartHeartbeat runs the periodic heartbeat broadcast (spec §4.5
// "Subsequent automatic heartbeats"), idle eviction, and admission
// bucket sweep.
func (h *Hub) StartHeartbeat(ctx context.Context) {
	if h.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	go func() {
		defer logging.RecoverPanic(h.logger, "hub-heartbeat", nil)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopHeartbeat:
				return
			case <-ticker.C:
				h.broadcastHeartbeat()
				h.evictIdle()
				h.admission.sweep()
			}
		}
	}()
}

func (h *Hub) broadcastHeartbeat() {
	msg := encode("heartbeat", map[string]any{
		"timestamp":         time.Now().UnixMilli(),
		"connectedClients": h.ConnectionCount(),
	})
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, c := range h.clients {
		h.enqueue(c, msg)
	}
}

// evictIdle closes connections that haven't pinged in 2x the
// heartbeat interval (spec §5).
func (h *Hub) evictIdle() {
	deadline := time.Now().Add(-2 * h.cfg.HeartbeatInterval)
	h.clientsMu.RLock()
	stale := make([]*Client, 0)
	for _, c := range h.clients {
		if time.Unix(0, c.lastPingAt.Load()).Before(deadline) {
			stale = append(stale, c)
		}
	}
	h.clientsMu.RUnlock()
	for _, c := range stale {
		h.disconnect(c, "idle_timeout")
	}
}

// HandleUpgrade is the HTTP handler for the push-socket endpoint.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIPOf(r)

	if h.shuttingDown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if h.cfg.RequireOriginCheck && !h.originAllowed(r.Header.Get("Origin")) {
		writeSubscriptionError(w, &errs.SubscriptionError{Kind: errs.SubscriptionOriginDenied, Message: "origin not allowed"})
		return
	}
	if ua := r.Header.Get("User-Agent"); len(ua) < h.cfg.MinUserAgentLen {
		writeSubscriptionError(w, &errs.SubscriptionError{Kind: errs.SubscriptionUserAgentInvalid, Message: "missing or short User-Agent"})
		return
	}
	if !h.admission.allow(clientIP) {
		writeSubscriptionError(w, &errs.SubscriptionError{Kind: errs.SubscriptionConnectionCap, Message: "connection attempt rate exceeded"})
		return
	}
	if !h.admitIP(clientIP) {
		writeSubscriptionError(w, &errs.SubscriptionError{Kind: errs.SubscriptionConnectionCap, Message: "connection cap exceeded for this IP"})
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.releaseIP(clientIP)
		h.logger.Error().Err(err).Str("client_ip", clientIP).Msg("websocket upgrade failed")
		return
	}

	id := h.nextID.Add(1)
	c := newClient(id, conn, clientIP)

	h.clientsMu.Lock()
	h.clients[id] = c
	h.clientsMu.Unlock()

	h.cache.Set(context.Background(), cache.TagClientSession, sessionKey(id), sessionRecord(c), cache.SetOpts{MemoryOnly: true})

	h.sendHello(c)

	go h.writePump(c)
	go h.readPump(c)
}

func sessionKey(id int64) string { return strconv.FormatInt(id, 10) }

func sessionRecord(c *Client) map[string]any {
	return map[string]any{
		"connectionId": c.id,
		"remoteAddr":   c.remoteAddr,
		"connectedAt":  c.connectedAt.UnixMilli(),
	}
}

func (h *Hub) sendHello(c *Client) {
	cached := map[string]bool{}
	for domain := range domains {
		_, ok := h.currentFor(domain)
		cached[domain] = ok
	}
	available := make([]string, 0, len(domains))
	for d := range domains {
		available = append(available, d)
	}
	msg := encode("connection:established", map[string]any{
		"clientId":       c.id,
		"serverTime":     time.Now().UnixMilli(),
		"availableFeeds": available,
		"cachedData":     cached,
	})
	h.enqueue(c, msg)
}

func (h *Hub) currentFor(domain string) (any, bool) {
	if h.store == nil {
		return nil, false
	}
	return h.store.GetCurrent(domain)
}

func (h *Hub) readPump(c *Client) {
	defer logging.RecoverPanic(h.logger, "hub-readPump", map[string]any{"client_id": c.id})
	defer h.disconnect(c, "read_closed")

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if op == ws.OpClose {
			return
		}
		if op != ws.OpText {
			continue
		}

		result := h.eventLimits.Increment(strconv.FormatInt(c.id, 10), int64(60*time.Second/time.Millisecond), h.cfg.MaxEventsPerMinute)
		if result.Limited {
			h.enqueue(c, encode("rate_limit_exceeded", map[string]any{
				"message":   "too many messages",
				"resetTime": result.ResetTime.UnixMilli(),
			}))
			continue
		}

		h.handleMessage(c, msg)
	}
}

func (h *Hub) handleMessage(c *Client, raw []byte) {
	var m inbound
	if err := json.Unmarshal(raw, &m); err != nil {
		return // malformed inbound frames are dropped silently, not a connection-ending error
	}

	switch {
	case m.Type == msgSubscribe:
		h.handleSubscribe(c, m.Feed)
	case m.Type == msgUnsubscribe:
		h.handleUnsubscribe(c, m.Feed)
	case m.Type == msgPing:
		c.lastPingAt.Store(time.Now().UnixNano())
		h.enqueue(c, encode("pong", map[string]any{"timestamp": time.Now().UnixMilli()}))
	case strings.HasPrefix(m.Type, requestPrefix):
		h.handleRequest(c, strings.TrimPrefix(m.Type, requestPrefix))
	}
}

func (h *Hub) handleSubscribe(c *Client, feedName string) {
	k := feed.Kind(feedName)
	if !feed.Known(k) {
		h.enqueue(c, encode("subscription:error", map[string]any{
			"feedName": feedName,
			"error":    "Invalid feed name",
		}))
		return
	}
	c.subscriptions.Add(k)
	h.index.Add(k, c)
	h.enqueue(c, encode("subscription:confirmed", map[string]any{
		"feedName":     feedName,
		"subscribedAt": time.Now().UnixMilli(),
	}))
}

func (h *Hub) handleUnsubscribe(c *Client, feedName string) {
	k := feed.Kind(feedName)
	c.subscriptions.Remove(k)
	h.index.Remove(k, c)
	h.enqueue(c, encode("unsubscription:confirmed", map[string]any{"feedName": feedName}))
}

func (h *Hub) handleRequest(c *Client, domain string) {
	if _, ok := domains[domain]; !ok {
		return
	}
	value, ok := h.currentFor(domain)
	if !ok {
		h.enqueue(c, encode(domain+":current", map[string]any{
			"message": "No " + domain + " data available",
			"cached":  false,
		}))
		return
	}
	h.enqueue(c, encode(domain+":current", map[string]any{
		"payload": value,
		"cached":  true,
	}))
}

// BroadcastToFeed sends feed:<feedName> to every subscriber. A no-op
// with no downstream allocation when there are zero subscribers (spec
// §8 boundary behavior).
func (h *Hub) BroadcastToFeed(feedName feed.Kind, payload any) {
	targets := h.index.Get(feedName)
	if len(targets) == 0 {
		return
	}
	msg := encode("feed:"+string(feedName), map[string]any{
		"payload":   payload,
		"timestamp": time.Now().UnixMilli(),
		"feedName":  string(feedName),
	})
	for _, c := range targets {
		h.enqueue(c, msg)
	}
}

// ThrottledBroadcast delivers at most one message per feedName per
// minIntervalMs; minInterval=0 is equivalent to BroadcastToFeed (spec
// §8).
func (h *Hub) ThrottledBroadcast(feedName feed.Kind, payload any, minIntervalMs int) {
	if minIntervalMs <= 0 {
		h.BroadcastToFeed(feedName, payload)
		return
	}
	st := h.throttleFor(feedName)
	st.mu.Lock()
	defer st.mu.Unlock()
	if time.Since(st.lastSent) < time.Duration(minIntervalMs)*time.Millisecond {
		return
	}
	st.lastSent = time.Now()
	h.BroadcastToFeed(feedName, payload)
}

func (h *Hub) throttleFor(f feed.Kind) *throttleState {
	h.throttleMu.Lock()
	defer h.throttleMu.Unlock()
	st, ok := h.throttles[f]
	if !ok {
		st = &throttleState{}
		h.throttles[f] = st
	}
	return st
}

// Recover emits per-domain current events with cached:true to every
// connection, followed by data:restored (spec §4.7, §4.5 Recovery).
func (h *Hub) Recover(values map[string]any) {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	restored := make([]string, 0, len(values))
	for domain, value := range values {
		restored = append(restored, domain)
		msg := encode(domain+":update", map[string]any{"payload": value, "cached": true})
		for _, c := range clients {
			h.enqueue(c, msg)
		}
	}
	summary := encode("data:restored", map[string]any{"restoredTypes": restored})
	for _, c := range clients {
		h.enqueue(c, summary)
	}
}

// enqueue is a non-blocking send with 3-strike slow-client
// disconnection (grounded on ws/internal/shared/broadcast.go).
func (h *Hub) enqueue(c *Client, msg []byte) {
	select {
	case c.send <- msg:
		atomic.StoreInt32(&c.sendFailures, 0)
	default:
		if atomic.AddInt32(&c.sendFailures, 1) >= 3 {
			h.disconnect(c, "slow_client")
		}
	}
}

func (h *Hub) writePump(c *Client) {
	defer logging.RecoverPanic(h.logger, "hub-writePump", map[string]any{"client_id": c.id})
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeOnce.Do(func() { c.conn.Close() })
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpText, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) disconnect(c *Client, reason string) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, c.id)
	h.clientsMu.Unlock()

	h.index.RemoveClient(c)
	h.eventLimits.Remove(strconv.FormatInt(c.id, 10))
	h.releaseIP(c.remoteAddr)
	h.cache.Delete(context.Background(), cache.TagClientSession, sessionKey(c.id))
	c.closeOnce.Do(func() { c.conn.Close() })
	h.logger.Debug().Int64("client_id", c.id).Str("reason", reason).Msg("connection closed")
}

func (h *Hub) admitIP(ip string) bool {
	h.ipCountsMu.Lock()
	defer h.ipCountsMu.Unlock()
	if h.ipCounts[ip] >= h.cfg.MaxConnectionsPerIP {
		return false
	}
	h.ipCounts[ip]++
	return true
}

func (h *Hub) releaseIP(ip string) {
	h.ipCountsMu.Lock()
	defer h.ipCountsMu.Unlock()
	if h.ipCounts[ip] > 0 {
		h.ipCounts[ip]--
		if h.ipCounts[ip] == 0 {
			delete(h.ipCounts, ip)
		}
	}
}

func (h *Hub) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

func clientIPOf(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func writeSubscriptionError(w http.ResponseWriter, err *errs.SubscriptionError) {
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write(encode("subscription:error", map[string]any{"error": err.Message}))
}

