package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"table-status-backend/internal/model"
)

const lastGoodKey = "tables"

// Snapshot is the full table collection at one point in time. Tables is shared between
// subscribers and must not be modified.
type Snapshot struct {
	Tables []model.Table
	At     time.Time
	// Stale is set when the live load failed and Tables holds the last good snapshot, if any.
	Stale bool
	Err   error
}

// Lister loads the full table collection.
type Lister interface {
	ListTables(ctx context.Context) ([]model.Table, error)
}

// Subscription is a live stream of snapshots. C is closed by Unsubscribe.
type Subscription struct {
	C    <-chan Snapshot
	once sync.Once
	stop func()
}

// Unsubscribe stops delivery and closes C. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.stop)
}

// Hub loads table snapshots and fans them out to subscribers in load order.
// A slow subscriber only ever holds the newest undelivered snapshot.
type Hub struct {
	lister   Lister
	interval time.Duration
	lastGood *cache.Cache
	log      logrus.FieldLogger

	mu      sync.Mutex
	subs    map[uint64]chan Snapshot
	nextID  uint64
	current *Snapshot
	sig     string

	refresh chan struct{}
}

// NewHub creates a hub polling lister every interval. The last good snapshot is kept for
// fallbackTTL to serve subscribers while the store is unavailable.
func NewHub(lister Lister, interval, fallbackTTL time.Duration, log logrus.FieldLogger) *Hub {
	return &Hub{
		lister:   lister,
		interval: interval,
		lastGood: cache.New(fallbackTTL, fallbackTTL),
		log:      log,
		subs:     make(map[uint64]chan Snapshot),
		refresh:  make(chan struct{}, 1),
	}
}

// Subscribe registers a new subscriber. It receives the current snapshot right away if one
// has been loaded.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Snapshot, 1)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	if h.current != nil {
		ch <- *h.current
	}
	h.mu.Unlock()

	return &Subscription{
		C: ch,
		stop: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		},
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Refresh asks Run to reload the collection. It never blocks; concurrent requests coalesce.
func (h *Hub) Refresh() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

// Run loads the collection once, then again on every Refresh and every poll interval,
// until ctx is cancelled. All subscriptions are closed when it returns.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("table registry hub started")
	h.load(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("table registry hub shutting down")
			return
		case <-h.refresh:
			h.load(ctx)
		case <-ticker.C:
			h.load(ctx)
		}
	}
}

// load reads the collection and publishes it if it changed since the last publication.
func (h *Hub) load(ctx context.Context) {
	now := time.Now().UTC()
	tables, err := h.lister.ListTables(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.log.WithError(err).Warn("failed to load tables; serving last known snapshot")
		snap := Snapshot{At: now, Stale: true, Err: err}
		if cached, ok := h.lastGood.Get(lastGoodKey); ok {
			snap.Tables = cached.([]model.Table)
		}
		h.publish(snap, "")
		return
	}

	sig := signature(tables)
	h.mu.Lock()
	unchanged := h.current != nil && !h.current.Stale && h.sig == sig
	h.mu.Unlock()
	if unchanged {
		return
	}

	h.lastGood.SetDefault(lastGoodKey, tables)
	h.publish(Snapshot{Tables: tables, At: now}, sig)
}

func (h *Hub) publish(snap Snapshot, sig string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = &snap
	h.sig = sig
	for _, ch := range h.subs {
		select {
		case ch <- snap:
		default:
			// Replace the undelivered snapshot with the newer one.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// signature identifies a collection state by ids and versions.
func signature(tables []model.Table) string {
	var b strings.Builder
	for _, t := range tables {
		fmt.Fprintf(&b, "%s:%d;", t.ID, t.Version)
	}
	return b.String()
}
