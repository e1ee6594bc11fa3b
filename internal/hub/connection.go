package hub

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/f1-relay/internal/feed"
)

// Client is one push-socket connection. One goroutine pair (readPump,
// writePump) owns its lifecycle; the client's own feed set lives in
// its SubscriptionSet, and broadcast lookups go through the Hub's
// SubscriptionIndex.
type Client struct {
	id         int64
	conn       net.Conn
	remoteAddr string
	send       chan []byte // buffered outbound queue, drained by writePump
	closeOnce  sync.Once

	subscriptions *SubscriptionSet

	lastPingAt   atomic.Int64 // unix nanos
	connectedAt  time.Time
	sendFailures int32 // consecutive blocked-send strikes, 3 trips a disconnect
}

func newClient(id int64, conn net.Conn, remoteAddr string) *Client {
	c := &Client{
		id:            id,
		conn:          conn,
		remoteAddr:    remoteAddr,
		send:          make(chan []byte, 256),
		subscriptions: NewSubscriptionSet(),
		connectedAt:   time.Now(),
	}
	c.lastPingAt.Store(time.Now().UnixNano())
	return c
}

// SubscriptionSet is a thread-safe set of a connection's subscribed
// feeds (spec §3 Subscription.subscribedFeeds).
type SubscriptionSet struct {
	mu     sync.RWMutex
	feeds  map[feed.Kind]struct{}
}

func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{feeds: make(map[feed.Kind]struct{})}
}

func (s *SubscriptionSet) Add(f feed.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[f] = struct{}{}
}

func (s *SubscriptionSet) Remove(f feed.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.feeds, f)
}

func (s *SubscriptionSet) Has(f feed.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.feeds[f]
	return ok
}

func (s *SubscriptionSet) List() []feed.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]feed.Kind, 0, len(s.feeds))
	for f := range s.feeds {
		out = append(out, f)
	}
	return out
}

// SubscriptionIndex is the reverse index from feed.Kind to subscribed
// clients: copy-on-write atomic.Value snapshots per feed. Get holds a
// read lock only to find the feed's slot, then loads and iterates the
// snapshot without any lock (grounded on
// ws/internal/shared/connection.go's SubscriptionIndex).
type SubscriptionIndex struct {
	mu   sync.RWMutex
	byFeed map[feed.Kind]*atomic.Value // holds []*Client
}

func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{byFeed: make(map[feed.Kind]*atomic.Value)}
}

func (idx *SubscriptionIndex) Add(f feed.Kind, c *Client) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	av, ok := idx.byFeed[f]
	if !ok {
		av = &atomic.Value{}
		idx.byFeed[f] = av
	}
	var cur []*Client
	if v := av.Load(); v != nil {
		cur = v.([]*Client)
	}
	for _, existing := range cur {
		if existing == c {
			return
		}
	}
	next := make([]*Client, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = c
	av.Store(next)
}

func (idx *SubscriptionIndex) Remove(f feed.Kind, c *Client) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	av, ok := idx.byFeed[f]
	if !ok {
		return
	}
	v := av.Load()
	if v == nil {
		return
	}
	cur := v.([]*Client)
	for i, existing := range cur {
		if existing == c {
			next := make([]*Client, len(cur)-1)
			copy(next, cur[:i])
			copy(next[i:], cur[i+1:])
			if len(next) == 0 {
				delete(idx.byFeed, f)
			} else {
				av.Store(next)
			}
			return
		}
	}
}

// RemoveClient drops c from every feed it was subscribed to, on
// disconnect.
func (idx *SubscriptionIndex) RemoveClient(c *Client) {
	idx.mu.RLock()
	feeds := make([]feed.Kind, 0, len(idx.byFeed))
	for f := range idx.byFeed {
		feeds = append(feeds, f)
	}
	idx.mu.RUnlock()
	for _, f := range feeds {
		idx.Remove(f, c)
	}
}

// Get returns the immutable snapshot of clients subscribed to f. Safe
// to iterate without copying; must not be modified.
func (idx *SubscriptionIndex) Get(f feed.Kind) []*Client {
	idx.mu.RLock()
	av, ok := idx.byFeed[f]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	v := av.Load()
	if v == nil {
		return nil
	}
	return v.([]*Client)
}
