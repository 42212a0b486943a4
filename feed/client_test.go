package feed

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn. Frames pushed to in come out of ReadMessage;
// WriteJSON calls are recorded.
type fakeConn struct {
	in chan []byte

	mu     sync.Mutex
	writes []interface{}
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.in
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.in)
	}
	return nil
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// guardConn trips when two WriteJSON calls overlap. gorilla panics on
// concurrent writers, so an overlap here is a crash in production.
type guardConn struct {
	*fakeConn
	writers int32
	overlap int32
}

func (g *guardConn) WriteJSON(v interface{}) error {
	if atomic.AddInt32(&g.writers, 1) > 1 {
		atomic.StoreInt32(&g.overlap, 1)
	}
	time.Sleep(100 * time.Microsecond)
	atomic.AddInt32(&g.writers, -1)
	return g.fakeConn.WriteJSON(v)
}

func (g *guardConn) overlapped() bool {
	return atomic.LoadInt32(&g.overlap) == 1
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func frame(t *testing.T, results ...ResultEvent) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"type":          "results",
		"last20Results": results,
	})
	require.NoError(t, err)
	return data
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.attempts), "attempts=%d", tc.attempts)
	}
}

func TestConnectSendsSubscribeOnce(t *testing.T) {
	conn := newFakeConn()
	dials := 0
	c := NewClient("ws://feed", Options{
		DisableAutoReconnect: true,
		Logger:               quietLogger(),
		Dialer: func(url string) (Conn, error) {
			dials++
			return conn, nil
		},
	})
	defer c.Close()

	sub := map[string]string{"type": "subscribe"}
	require.NoError(t, c.Connect(sub))
	assert.True(t, c.Connected())
	assert.Equal(t, 1, conn.sentCount())

	// already open: no second dial, no second subscribe
	require.NoError(t, c.Connect(sub))
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, conn.sentCount())
}

func TestResultDedupAndPongFilter(t *testing.T) {
	conn := newFakeConn()
	c := NewClient("ws://feed", Options{
		DisableAutoReconnect: true,
		Logger:               quietLogger(),
		Dialer:               func(string) (Conn, error) { return conn, nil },
	})
	defer c.Close()

	var mu sync.Mutex
	var got []ResultEvent
	c.OnResult(func(ev ResultEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	require.NoError(t, c.Connect(map[string]string{"type": "subscribe"}))

	conn.in <- []byte(`{"type":"pong"}`)
	conn.in <- []byte(`{not json`)
	conn.in <- frame(t, ResultEvent{Result: "17", Time: "10:00:01"}, ResultEvent{Result: "3", Time: "09:59:31"})
	// overlapping snapshot: same head, must not fire again
	conn.in <- frame(t, ResultEvent{Result: "17", Time: "10:00:01"})
	conn.in <- frame(t, ResultEvent{Result: "0", Time: "10:00:31"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "17", got[0].Result)
	assert.Equal(t, "0", got[1].Result)

	// window retains only the deduped heads, newest first
	results := c.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "0", results[0].Result)
}

func TestDisconnectSchedulesRetryAndOpenResetsAttempts(t *testing.T) {
	attemptsSeen := 0
	conn := newFakeConn()
	c := NewClient("ws://feed", Options{
		Logger: quietLogger(),
		Dialer: func(string) (Conn, error) {
			attemptsSeen++
			if attemptsSeen == 1 {
				return nil, errors.New("refused")
			}
			return conn, nil
		},
	})
	defer c.Close()

	var mu sync.Mutex
	var transitions []bool
	c.OnConnectionChange(func(connected bool) {
		mu.Lock()
		transitions = append(transitions, connected)
		mu.Unlock()
	})

	err := c.Connect(map[string]string{"type": "subscribe"})
	require.Error(t, err)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, c.Attempts(), "failed dial consumes one attempt")

	// The retry timer is pending (1s); force the reconnect now instead.
	c.WakeUp()
	waitFor(t, c.Connected)
	assert.Equal(t, 0, c.Attempts(), "open connection resets the counter")

	// subscribe payload was replayed on the new transport
	assert.Equal(t, 1, conn.sentCount())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, transitions)
}

func TestNoRetryWhenDisabled(t *testing.T) {
	c := NewClient("ws://feed", Options{
		DisableAutoReconnect: true,
		Logger:               quietLogger(),
		Dialer:               func(string) (Conn, error) { return nil, errors.New("refused") },
	})
	defer c.Close()

	require.Error(t, c.Connect(nil))

	c.mu.Lock()
	timer := c.reconnectTimer
	c.mu.Unlock()
	assert.Nil(t, timer, "no reconnect may be scheduled")
}

func TestRetriesStopAtMax(t *testing.T) {
	c := NewClient("ws://feed", Options{
		MaxRetries: 2,
		Logger:     quietLogger(),
		Dialer:     func(string) (Conn, error) { return nil, errors.New("refused") },
	})
	defer c.Close()

	require.Error(t, c.Connect(nil))
	assert.Equal(t, 1, c.Attempts())

	// Drive the retries directly instead of waiting out the backoff timers.
	c.WakeUp()
	waitFor(t, func() bool { return c.Attempts() == 2 })

	c.WakeUp()
	waitFor(t, func() bool { return c.State() == StateClosed })

	c.mu.Lock()
	timer := c.reconnectTimer
	c.mu.Unlock()
	assert.Nil(t, timer, "attempt cap reached, nothing scheduled")
}

func TestSendDroppedWhenNotOpen(t *testing.T) {
	c := NewClient("ws://feed", Options{
		DisableAutoReconnect: true,
		Logger:               quietLogger(),
		Dialer:               func(string) (Conn, error) { return nil, errors.New("refused") },
	})
	defer c.Close()

	// must not panic or block
	c.Send(map[string]string{"type": "subscribe"})
}

func TestSendDoesNotRaceHeartbeat(t *testing.T) {
	conn := &guardConn{fakeConn: newFakeConn()}
	c := NewClient("ws://feed", Options{
		DisableAutoReconnect: true,
		HeartbeatInterval:    time.Millisecond,
		Logger:               quietLogger(),
		Dialer:               func(string) (Conn, error) { return conn, nil },
	})
	defer c.Close()

	require.NoError(t, c.Connect(map[string]string{"type": "subscribe"}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Send(map[string]string{"type": "subscribe"})
			}
		}()
	}
	wg.Wait()

	assert.False(t, conn.overlapped(), "two writers hit the connection at once")
}

func TestCloseIsTerminal(t *testing.T) {
	conn := newFakeConn()
	c := NewClient("ws://feed", Options{
		Logger: quietLogger(),
		Dialer: func(string) (Conn, error) { return conn, nil },
	})

	require.NoError(t, c.Connect(map[string]string{"type": "subscribe"}))
	c.Close()

	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Connect(nil), ErrClosed)

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	assert.True(t, closed, "transport must be closed")
}

func TestHeartbeatPings(t *testing.T) {
	conn := newFakeConn()
	c := NewClient("ws://feed", Options{
		DisableAutoReconnect: true,
		HeartbeatInterval:    10 * time.Millisecond,
		Logger:               quietLogger(),
		Dialer:               func(string) (Conn, error) { return conn, nil },
	})
	defer c.Close()

	require.NoError(t, c.Connect(map[string]string{"type": "subscribe"}))

	// 1 subscribe + at least 2 pings
	waitFor(t, func() bool { return conn.sentCount() >= 3 })

	conn.mu.Lock()
	defer conn.mu.Unlock()
	ping, ok := conn.writes[1].(pingMessage)
	require.True(t, ok)
	assert.Equal(t, "ping", ping.Type)
}
