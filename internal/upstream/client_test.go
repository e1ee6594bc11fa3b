package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/f1-relay/internal/errs"
	"github.com/adred-codev/f1-relay/internal/feed"
)

func TestBackoff_ExponentialWithCap(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	assert.Equal(t, time.Second, backoff(base, max, 1))
	assert.Equal(t, 2*time.Second, backoff(base, max, 2))
	assert.Equal(t, 4*time.Second, backoff(base, max, 3))
	assert.Equal(t, max, backoff(base, max, 10), "delay is capped at max once it would exceed it")
}

func TestNegotiate_ParsesResponseAndCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Set-Cookie", "session=abc123; Path=/")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ConnectionToken":  "tok-1",
			"ConnectionId":     "conn-1",
			"KeepAliveTimeout": 20.0,
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Hub: "Streaming"}, zerolog.Nop())
	err := c.negotiate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", c.connectionToken)
	assert.Equal(t, "conn-1", c.connectionID)
	assert.Equal(t, "session=abc123", c.cookies)
	assert.Equal(t, 20*time.Second, c.keepAlive)
}

func TestNegotiate_NonOKStatusIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Hub: "Streaming"}, zerolog.Nop())
	err := c.negotiate(t.Context())
	require.Error(t, err)
	ue, ok := err.(*errs.UpstreamError)
	require.True(t, ok)
	assert.Equal(t, 500, ue.HTTPStatus)
	assert.Equal(t, "Negotiation", ue.Kind.String())
}

func TestStartSession_RejectsUnexpectedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Response": "nope"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Hub: "Streaming"}, zerolog.Nop())
	err := c.startSession(t.Context())
	require.Error(t, err)
}

func TestStartSession_AcceptsStarted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Response": "started"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Hub: "Streaming"}, zerolog.Nop())
	require.NoError(t, c.startSession(t.Context()))
}

func TestToWebSocketURL(t *testing.T) {
	assert.Equal(t, "wss://example.com/signalr", toWebSocketURL("https://example.com/signalr"))
	assert.Equal(t, "ws://example.com/signalr", toWebSocketURL("http://example.com/signalr"))
}

func TestDispatchInvocation_Feed(t *testing.T) {
	c := New(Config{Hub: "Streaming"}, zerolog.Nop())
	c.dispatchInvocation(hubInvocation{
		M: "feed",
		A: []any{"TimingData", map[string]any{"Lines": map[string]any{}}, "2024-01-01T10:00:00.000Z"},
	})

	select {
	case f := <-c.frames:
		assert.Equal(t, feed.KindTimingData, f.FeedName)
	default:
		t.Fatal("expected a frame to be queued")
	}
}

func TestDispatchInvocation_Heartbeat(t *testing.T) {
	c := New(Config{Hub: "Streaming"}, zerolog.Nop())
	c.dispatchInvocation(hubInvocation{M: "heartbeat", A: []any{map[string]any{"value": "ok"}}})

	select {
	case f := <-c.frames:
		assert.Equal(t, feed.KindHeartbeat, f.FeedName)
	default:
		t.Fatal("expected a heartbeat frame to be queued")
	}
}

// TestStart_AttemptsResetOnEveryConnectedSurvivesPastMaxAttempts pins
// down the reconnect-attempt reset: every cycle negotiates, starts, and
// upgrades cleanly, then the server immediately drops the connection,
// so readLoop always returns a non-nil error. If attempts were only
// reset on connectOnce returning nil (unreachable, since a clean
// disconnect still surfaces as an error), the client would exhaust
// ReconnectMaxAttempts and stop after a handful of cycles. With the
// reset happening the moment Connected is reached, it must keep
// reconnecting indefinitely.
func TestStart_AttemptsResetOnEveryConnectedSurvivesPastMaxAttempts(t *testing.T) {
	var connectCount atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/negotiate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ConnectionToken":  "tok",
			"ConnectionId":     "conn",
			"KeepAliveTimeout": 20.0,
		})
	})
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Response": "started"})
	})
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		connectCount.Add(1)
		conn.Close()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{
		BaseURL:               srv.URL,
		Hub:                   "Streaming",
		ReconnectBaseInterval: time.Millisecond,
		ReconnectMaxInterval:  2 * time.Millisecond,
		ReconnectMaxAttempts:  3,
		ConnectTimeout:        time.Second,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	require.Eventually(t, func() bool { return connectCount.Load() >= 6 }, 2*time.Second, time.Millisecond,
		"reconnect count must exceed ReconnectMaxAttempts when attempts resets on every Connected")
	assert.NotEqual(t, Disconnected, c.State(), "the client must not have given up its retry budget")

	c.Stop()
}

func TestSubscribe_DefersUntilConnected(t *testing.T) {
	c := New(Config{Hub: "Streaming"}, zerolog.Nop())
	c.Subscribe(feed.KindTimingData, feed.KindCarData)

	c.subMu.Lock()
	want := len(c.pending)
	c.subMu.Unlock()
	assert.Equal(t, 2, want, "subscriptions are recorded as pending before Connected, not sent")
}
