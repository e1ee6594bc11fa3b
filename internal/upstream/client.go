// Package upstream implements the UpstreamClient of spec §4.1: a
// persistent client to the upstream hub-style streaming service, with
// HTTP negotiate/start handshake, a WebSocket transport leg, keep-alive,
// and a backoff-driven reconnect state machine.
//
// The WebSocket leg uses github.com/gobwas/ws in client-dial mode, the
// same low-level library ws/internal/shared/handlers_ws.go dials with
// on its server side — extended here to the client role it does not
// itself use.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/adred-codev/f1-relay/internal/errs"
	"github.com/adred-codev/f1-relay/internal/feed"
	"github.com/adred-codev/f1-relay/internal/platform/logging"
)

// Config configures a Client.
type Config struct {
	BaseURL               string
	Hub                   string
	Origin                string
	ReconnectBaseInterval time.Duration
	ReconnectMaxInterval  time.Duration
	ReconnectMaxAttempts  int
	ConnectTimeout        time.Duration
	KeepAliveOverride     time.Duration
}

// Client is the UpstreamClient.
type Client struct {
	cfg    Config
	logger zerolog.Logger
	http   *http.Client

	frames chan feed.Frame
	states chan ConnState
	errs   chan *errs.UpstreamError

	state atomic.Int32 // ConnState

	mu              sync.Mutex
	conn            net.Conn
	connectionToken string
	connectionID    string
	cookies         string
	keepAlive       time.Duration

	subMu    sync.Mutex
	pending  map[feed.Kind]bool // feeds wanted; sent once Connected
	invCtr   atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Client. Call Start in its own goroutine; read Frames(),
// States(), and Errors() concurrently.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.ReconnectBaseInterval == 0 {
		cfg.ReconnectBaseInterval = time.Second
	}
	if cfg.ReconnectMaxInterval == 0 {
		cfg.ReconnectMaxInterval = 30 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		logger:  logger,
		http:    &http.Client{Timeout: cfg.ConnectTimeout},
		frames:  make(chan feed.Frame, 1024),
		states:  make(chan ConnState, 16),
		errs:    make(chan *errs.UpstreamError, 16),
		pending: make(map[feed.Kind]bool),
		stopCh:  make(chan struct{}),
	}
	c.state.Store(int32(Disconnected))
	return c
}

func (c *Client) Frames() <-chan feed.Frame        { return c.frames }
func (c *Client) States() <-chan ConnState         { return c.states }
func (c *Client) Errors() <-chan *errs.UpstreamError { return c.errs }

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) {
	c.state.Store(int32(s))
	select {
	case c.states <- s:
	default:
	}
}

// Start runs the negotiate/connect/start handshake and the reconnect
// loop until ctx is cancelled, Stop is called, or the retry budget is
// exhausted. It blocks; callers run it in its own goroutine.
func (c *Client) Start(ctx context.Context) {
	defer logging.RecoverPanic(c.logger, "upstream-client", nil)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			c.setState(Disconnected)
			return
		case <-c.stopCh:
			c.setState(Disconnected)
			return
		default:
		}

		if err := c.connectOnce(ctx, &attempts); err != nil {
			attempts++
			if attempts >= c.cfg.ReconnectMaxAttempts {
				c.emitErr(&errs.UpstreamError{Kind: errs.UpstreamMaxRetries, Err: err})
				c.setState(Disconnected)
				return
			}
			c.setState(Reconnecting)
			delay := backoff(c.cfg.ReconnectBaseInterval, c.cfg.ReconnectMaxInterval, attempts)
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-time.After(delay):
			}
			continue
		}
	}
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<uint(attempt-1))
	if d > max || d <= 0 {
		return max
	}
	return d
}

// connectOnce runs one full negotiate -> connect -> start -> read
// cycle; returns when the transport closes or a fatal error occurs.
// attempts is reset the moment the state reaches Connected, not on
// return, since readLoop always surfaces the eventual disconnect as a
// non-nil error and a post-return reset would never fire (spec §4.1
// "reset to 0 upon reaching Connected").
func (c *Client) connectOnce(ctx context.Context, attempts *int) error {
	c.setState(Negotiating)
	if err := c.negotiate(ctx); err != nil {
		c.emitErr(err.(*errs.UpstreamError))
		return err
	}

	c.setState(Opening)
	conn, err := c.openWebSocket(ctx)
	if err != nil {
		ue := &errs.UpstreamError{Kind: errs.UpstreamTransport, Err: err}
		c.emitErr(ue)
		return ue
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setState(Starting)
	if err := c.startSession(ctx); err != nil {
		conn.Close()
		c.emitErr(err.(*errs.UpstreamError))
		return err
	}

	c.setState(Connected)
	*attempts = 0
	c.flushPendingSubscriptions()

	keepAlive := c.keepAlive
	if c.cfg.KeepAliveOverride > 0 {
		keepAlive = c.cfg.KeepAliveOverride
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepAliveLoop(keepAlive, stop)
	}()

	readErr := c.readLoop(conn)
	close(stop)
	wg.Wait()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()

	return readErr
}

func (c *Client) emitErr(e *errs.UpstreamError) {
	select {
	case c.errs <- e:
	default:
	}
}

type negotiateResponse struct {
	ConnectionToken  string  `json:"ConnectionToken"`
	ConnectionID     string  `json:"ConnectionId"`
	KeepAliveTimeout float64 `json:"KeepAliveTimeout"`
}

func (c *Client) connectionData() string {
	data, _ := json.Marshal([]map[string]string{{"name": c.cfg.Hub}})
	return string(data)
}

func (c *Client) negotiate(ctx context.Context) error {
	q := url.Values{}
	q.Set("clientProtocol", "1.5")
	q.Set("connectionData", c.connectionData())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/negotiate?"+q.Encode(), nil)
	if err != nil {
		return &errs.UpstreamError{Kind: errs.UpstreamNegotiation, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &errs.UpstreamError{Kind: errs.UpstreamNegotiation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errs.UpstreamError{Kind: errs.UpstreamNegotiation, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("negotiate failed")}
	}

	var body negotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &errs.UpstreamError{Kind: errs.UpstreamNegotiation, Err: err}
	}

	c.mu.Lock()
	c.connectionToken = body.ConnectionToken
	c.connectionID = body.ConnectionID
	c.keepAlive = time.Duration(body.KeepAliveTimeout * float64(time.Second))
	c.cookies = extractCookies(resp.Header)
	c.mu.Unlock()
	return nil
}

func extractCookies(h http.Header) string {
	var pairs []string
	for _, sc := range h.Values("Set-Cookie") {
		if i := strings.Index(sc, ";"); i >= 0 {
			sc = sc[:i]
		}
		pairs = append(pairs, strings.TrimSpace(sc))
	}
	return strings.Join(pairs, "; ")
}

func (c *Client) openWebSocket(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	token := c.connectionToken
	cookies := c.cookies
	c.mu.Unlock()

	q := url.Values{}
	q.Set("transport", "webSockets")
	q.Set("clientProtocol", "1.5")
	q.Set("connectionToken", token)
	q.Set("connectionData", c.connectionData())
	q.Set("tid", "10")

	wsURL := toWebSocketURL(c.cfg.BaseURL) + "/connect?" + q.Encode()

	dialer := ws.Dialer{
		Timeout: c.cfg.ConnectTimeout,
		Header: ws.HandshakeHeaderHTTP(http.Header{
			"Cookie": []string{cookies},
			"Origin": []string{c.cfg.Origin},
		}),
	}
	conn, _, _, err := dialer.Dial(ctx, wsURL)
	return conn, err
}

func toWebSocketURL(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	if strings.HasPrefix(base, "http://") {
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func (c *Client) startSession(ctx context.Context) error {
	c.mu.Lock()
	token := c.connectionToken
	cookies := c.cookies
	c.mu.Unlock()

	q := url.Values{}
	q.Set("transport", "webSockets")
	q.Set("clientProtocol", "1.5")
	q.Set("connectionToken", token)
	q.Set("connectionData", c.connectionData())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/start?"+q.Encode(), nil)
	if err != nil {
		return &errs.UpstreamError{Kind: errs.UpstreamStart, Err: err}
	}
	req.Header.Set("Cookie", cookies)

	resp, err := c.http.Do(req)
	if err != nil {
		return &errs.UpstreamError{Kind: errs.UpstreamStart, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errs.UpstreamError{Kind: errs.UpstreamStart, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("start failed")}
	}

	var body struct {
		Response string `json:"Response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &errs.UpstreamError{Kind: errs.UpstreamStart, Err: err}
	}
	if body.Response != "started" {
		return &errs.UpstreamError{Kind: errs.UpstreamStart, Err: fmt.Errorf("unexpected start response %q", body.Response)}
	}
	return nil
}

func (c *Client) keepAliveLoop(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			_ = wsutil.WriteClientMessage(conn, ws.OpText, nil)
		}
	}
}

type hubFrame struct {
	C string            `json:"C"`
	S int               `json:"S"`
	M []hubInvocation   `json:"M"`
}

type hubInvocation struct {
	H string `json:"H"`
	M string `json:"M"`
	A []any  `json:"A"`
}

func (c *Client) readLoop(conn net.Conn) error {
	for {
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			return err
		}
		if op != ws.OpText || len(bytes.TrimSpace(data)) == 0 {
			continue // empty frames are keep-alives, produce no event
		}

		var hf hubFrame
		if err := json.Unmarshal(data, &hf); err != nil {
			c.emitErr(&errs.UpstreamError{Kind: errs.UpstreamParse, Err: err})
			continue // parse failure is logged/skipped, never tears down the connection
		}
		if hf.C != "" {
			c.mu.Lock()
			c.connectionID = hf.C
			c.mu.Unlock()
		}

		for _, inv := range hf.M {
			c.dispatchInvocation(inv)
		}
	}
}

func (c *Client) dispatchInvocation(inv hubInvocation) {
	switch inv.M {
	case "feed":
		if len(inv.A) < 3 {
			return
		}
		name, _ := inv.A[0].(string)
		payload, _ := inv.A[1].(map[string]any)
		ts := parseUpstreamTimestamp(inv.A[2])
		c.frames <- feed.Frame{FeedName: feed.Kind(name), Payload: payload, Timestamp: ts}
	case "heartbeat":
		var payload map[string]any
		if len(inv.A) > 0 {
			if m, ok := inv.A[0].(map[string]any); ok {
				payload = m
			}
		}
		c.frames <- feed.Frame{FeedName: feed.KindHeartbeat, Payload: payload, Timestamp: time.Now()}
	}
}

func parseUpstreamTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Now()
	}
	if t, err := time.Parse("2006-01-02T15:04:05.000Z", s); err == nil {
		return t
	}
	return time.Now()
}

// Subscribe requests feeds from the hub, deferring until Connected if
// the session isn't there yet (spec §4.1 "idempotent ... otherwise
// defers until Connected").
func (c *Client) Subscribe(feeds ...feed.Kind) {
	c.subMu.Lock()
	for _, f := range feeds {
		c.pending[f] = true
	}
	c.subMu.Unlock()
	if c.State() == Connected {
		c.sendSubscribe(feeds)
	}
}

// Unsubscribe reverses Subscribe.
func (c *Client) Unsubscribe(f feed.Kind) {
	c.subMu.Lock()
	delete(c.pending, f)
	c.subMu.Unlock()
	if c.State() == Connected {
		c.invoke("Unsubscribe", []string{string(f)})
	}
}

func (c *Client) flushPendingSubscriptions() {
	c.subMu.Lock()
	feeds := make([]feed.Kind, 0, len(c.pending))
	for f, want := range c.pending {
		if want {
			feeds = append(feeds, f)
		}
	}
	c.subMu.Unlock()
	if len(feeds) > 0 {
		c.sendSubscribe(feeds)
	}
}

func (c *Client) sendSubscribe(feeds []feed.Kind) {
	names := make([]string, len(feeds))
	for i, f := range feeds {
		names[i] = string(f)
	}
	c.invoke("Subscribe", names)
}

// invoke sends {H,M,A,I} with I a monotonically increasing counter
// (spec §4.1 outbound hub calls); the feed-name array is passed as a
// single positional argument.
func (c *Client) invoke(method string, args []string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	payload := map[string]any{
		"H": c.cfg.Hub,
		"M": method,
		"A": []any{args},
		"I": strconv.FormatInt(c.invCtr.Add(1), 10),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = wsutil.WriteClientMessage(conn, ws.OpText, data)
}

// Stop cancels current work, closes the transport, and releases all
// resources. Safe to call in any state.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
}
