// feed/window.go
package feed

import "sync"

// WindowSize is how many results the client retains, matching the upstream
// last20Results payload.
const WindowSize = 20

// ResultEvent is one spin outcome from the feed. Time is the feed-assigned
// timestamp, kept as an opaque string and compared only for equality.
type ResultEvent struct {
	Result string `json:"result"`
	Time   string `json:"time"`
}

// Window is the retained result list, newest first. The feed re-sends
// overlapping snapshots of its last 20 results, so Push dedups against the
// head: an event whose timestamp equals the current head is discarded.
type Window struct {
	mu     sync.Mutex
	events []ResultEvent
}

// Push prepends ev unless its timestamp matches the current head, then trims
// to WindowSize. Returns true when the event was actually retained.
func (w *Window) Push(ev ResultEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.events) > 0 && w.events[0].Time == ev.Time {
		return false
	}
	w.events = append([]ResultEvent{ev}, w.events...)
	if len(w.events) > WindowSize {
		w.events = w.events[:WindowSize]
	}
	return true
}

// Head returns the newest retained event.
func (w *Window) Head() (ResultEvent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.events) == 0 {
		return ResultEvent{}, false
	}
	return w.events[0], true
}

// Snapshot copies the retained events, newest first.
func (w *Window) Snapshot() []ResultEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ResultEvent, len(w.events))
	copy(out, w.events)
	return out
}

// Len returns the number of retained events.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}
