// realtime/hub.go
package realtime

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const subscriptionBuffer = 16

// seenCap bounds per-subscriber staleness tracking. Append-only channels
// (roulette results) mint a fresh row id on every publish, so without a cap
// the map grows for the life of an SSE subscriber.
const seenCap = 256

// Snapshot is one full updated row pushed to subscribers of a table.
type Snapshot struct {
	Table     string      `json:"table"`
	ID        string      `json:"id"`
	UpdatedAt time.Time   `json:"updated_at"`
	Row       interface{} `json:"row"`
}

// Hub is the in-process realtime change notifier. Services publish the full
// row after every accepted write; subscribers scoped to a table receive each
// snapshot at least once. Staleness is filtered per subscriber: a snapshot
// that is not newer than the one already delivered for the same row id is
// dropped.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
	log  *logrus.Logger
}

// Subscription is one listener on a table channel.
type Subscription struct {
	C chan Snapshot

	hub   *Hub
	table string

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
		log:  log,
	}
}

// Subscribe opens a channel of snapshots for one table.
func (h *Hub) Subscribe(table string) *Subscription {
	sub := &Subscription{
		C:     make(chan Snapshot, subscriptionBuffer),
		hub:   h,
		table: table,
		seen:  make(map[string]time.Time),
	}
	h.mu.Lock()
	if h.subs[table] == nil {
		h.subs[table] = make(map[*Subscription]struct{})
	}
	h.subs[table][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Close detaches the subscription from the hub.
func (sub *Subscription) Close() {
	sub.hub.mu.Lock()
	delete(sub.hub.subs[sub.table], sub)
	sub.hub.mu.Unlock()
}

// accept records the snapshot unless an equal-or-newer one was already
// delivered for the same row.
func (sub *Subscription) accept(snap Snapshot) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if last, ok := sub.seen[snap.ID]; ok && !snap.UpdatedAt.After(last) {
		return false
	}
	if len(sub.seen) >= seenCap {
		// Resetting can re-deliver a row seen long ago, which at-least-once
		// delivery allows.
		sub.seen = make(map[string]time.Time, seenCap)
	}
	sub.seen[snap.ID] = snap.UpdatedAt
	return true
}

// Publish fans the snapshot out to every subscriber of its table. Delivery
// is non-blocking; a subscriber that cannot keep up loses snapshots, which
// is safe because every snapshot carries the full row.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs[snap.Table]))
	for sub := range h.subs[snap.Table] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if !sub.accept(snap) {
			continue
		}
		select {
		case sub.C <- snap:
		default:
			h.log.WithField("table", snap.Table).Debug("realtime: subscriber buffer full, dropping snapshot")
		}
	}
}
