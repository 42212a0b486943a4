package realtime

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub() *Hub {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewHub(log)
}

func recv(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap := <-sub.C:
		return snap
	case <-time.After(time.Second):
		t.Fatal("no snapshot received")
		return Snapshot{}
	}
}

func TestPublishFansOutToTableSubscribers(t *testing.T) {
	h := testHub()
	a := h.Subscribe("matches:tictactoe")
	b := h.Subscribe("matches:tictactoe")
	other := h.Subscribe("matches:checkers")

	h.Publish(Snapshot{Table: "matches:tictactoe", ID: "m1", UpdatedAt: time.Now(), Row: "row"})

	for _, sub := range []*Subscription{a, b} {
		snap := recv(t, sub)
		assert.Equal(t, "m1", snap.ID)
	}

	select {
	case <-other.C:
		t.Fatal("snapshot leaked to another table")
	default:
	}
}

func TestStaleSnapshotsDroppedPerSubscriber(t *testing.T) {
	h := testHub()
	sub := h.Subscribe("matches:tictactoe")

	now := time.Now()
	h.Publish(Snapshot{Table: "matches:tictactoe", ID: "m1", UpdatedAt: now, Row: 2})
	// older and equal updates for the same row must not be delivered
	h.Publish(Snapshot{Table: "matches:tictactoe", ID: "m1", UpdatedAt: now.Add(-time.Second), Row: 1})
	h.Publish(Snapshot{Table: "matches:tictactoe", ID: "m1", UpdatedAt: now, Row: 2})
	h.Publish(Snapshot{Table: "matches:tictactoe", ID: "m1", UpdatedAt: now.Add(time.Second), Row: 3})

	first := recv(t, sub)
	assert.Equal(t, 2, first.Row)
	second := recv(t, sub)
	assert.Equal(t, 3, second.Row)

	select {
	case snap := <-sub.C:
		t.Fatalf("unexpected snapshot: %+v", snap)
	default:
	}
}

func TestStalenessTrackedPerRow(t *testing.T) {
	h := testHub()
	sub := h.Subscribe("roulette:main")

	now := time.Now()
	h.Publish(Snapshot{Table: "roulette:main", ID: "r2", UpdatedAt: now, Row: "b"})
	// different row, older timestamp: still delivered
	h.Publish(Snapshot{Table: "roulette:main", ID: "r1", UpdatedAt: now.Add(-time.Minute), Row: "a"})

	assert.Equal(t, "r2", recv(t, sub).ID)
	assert.Equal(t, "r1", recv(t, sub).ID)
}

func TestClosedSubscriptionStopsReceiving(t *testing.T) {
	h := testHub()
	sub := h.Subscribe("roulette:main")
	sub.Close()

	h.Publish(Snapshot{Table: "roulette:main", ID: "r1", UpdatedAt: time.Now()})

	select {
	case <-sub.C:
		t.Fatal("closed subscription received a snapshot")
	default:
	}
}

func TestStalenessTrackingStaysBounded(t *testing.T) {
	h := testHub()
	sub := h.Subscribe("roulette:main")

	// An append-only channel: every snapshot is a brand new row.
	now := time.Now()
	for i := 0; i < seenCap*2; i++ {
		h.Publish(Snapshot{
			Table:     "roulette:main",
			ID:        fmt.Sprintf("spin-%d", i),
			UpdatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}

	sub.mu.Lock()
	size := len(sub.seen)
	sub.mu.Unlock()
	require.NotZero(t, size)
	assert.LessOrEqual(t, size, seenCap)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := testHub()
	sub := h.Subscribe("roulette:main")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*3; i++ {
			h.Publish(Snapshot{
				Table:     "roulette:main",
				ID:        "r1",
				UpdatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	require.NotEmpty(t, sub.C)
}
