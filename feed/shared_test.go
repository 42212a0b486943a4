package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEnvelope(t *testing.T, p *Port) Envelope {
	t.Helper()
	select {
	case env := <-p.C:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
		return Envelope{}
	}
}

func TestSharedSingleDialManyPorts(t *testing.T) {
	conn := newFakeConn()
	var mu sync.Mutex
	dials := 0
	s := NewShared("ws://feed", Options{
		Logger: quietLogger(),
		Dialer: func(string) (Conn, error) {
			mu.Lock()
			dials++
			mu.Unlock()
			return conn, nil
		},
	})
	defer s.Shutdown()

	a := s.Attach()
	// first subscriber triggers the dial and hears about it
	env := recvEnvelope(t, a)
	assert.Equal(t, "connection", env.Type)
	assert.Equal(t, "connected", env.Status)

	b := s.Attach()

	conn.in <- []byte(`{"type":"results","last20Results":[{"result":"7","time":"t1"}]}`)

	for _, p := range []*Port{a, b} {
		env := recvEnvelope(t, p)
		assert.Equal(t, "message", env.Type)
		assert.JSONEq(t, `{"type":"results","last20Results":[{"result":"7","time":"t1"}]}`, string(env.Data))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, dials, "ports share one physical connection")
}

func TestSharedDropsInvalidFrames(t *testing.T) {
	conn := newFakeConn()
	s := NewShared("ws://feed", Options{
		Logger: quietLogger(),
		Dialer: func(string) (Conn, error) { return conn, nil },
	})
	defer s.Shutdown()

	p := s.Attach()
	recvEnvelope(t, p) // connected

	conn.in <- []byte(`{broken`)
	conn.in <- []byte(`{"ok":true}`)

	env := recvEnvelope(t, p)
	assert.Equal(t, "message", env.Type)
	assert.JSONEq(t, `{"ok":true}`, string(env.Data))
}

func TestSharedReconnectAfterDrop(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	var mu sync.Mutex
	dials := 0
	s := NewShared("ws://feed", Options{
		Logger: quietLogger(),
		Dialer: func(string) (Conn, error) {
			mu.Lock()
			defer mu.Unlock()
			dials++
			if dials == 1 {
				return first, nil
			}
			return second, nil
		},
	})
	defer s.Shutdown()

	p := s.Attach()
	assert.Equal(t, "connected", recvEnvelope(t, p).Status)

	// transport dies; subscribers hear it, and the fixed 1s retry redials
	first.Close()
	assert.Equal(t, "disconnected", recvEnvelope(t, p).Status)

	assert.Equal(t, "connected", recvEnvelope(t, p).Status)
	assert.True(t, s.Connected())

	second.in <- []byte(`{"ok":true}`)
	assert.Equal(t, "message", recvEnvelope(t, p).Type)
}

func TestSharedPortCloseKeepsConnection(t *testing.T) {
	conn := newFakeConn()
	s := NewShared("ws://feed", Options{
		Logger: quietLogger(),
		Dialer: func(string) (Conn, error) { return conn, nil },
	})
	defer s.Shutdown()

	a := s.Attach()
	recvEnvelope(t, a)
	b := s.Attach()

	a.Close()
	require.True(t, s.Connected(), "remaining ports keep the transport alive")

	conn.in <- []byte(`{"ok":true}`)
	assert.Equal(t, "message", recvEnvelope(t, b).Type)
}

func TestSharedPortSendsSerialized(t *testing.T) {
	conn := &guardConn{fakeConn: newFakeConn()}
	s := NewShared("ws://feed", Options{
		Logger: quietLogger(),
		Dialer: func(string) (Conn, error) { return conn, nil },
	})
	defer s.Shutdown()

	a := s.Attach()
	recvEnvelope(t, a) // connected
	b := s.Attach()

	var wg sync.WaitGroup
	for _, p := range []*Port{a, b} {
		wg.Add(1)
		go func(p *Port) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				p.Send(map[string]string{"type": "subscribe"})
			}
		}(p)
	}
	wg.Wait()

	assert.False(t, conn.overlapped(), "two ports hit the connection at once")
}

func TestSharedSendWhileDisconnected(t *testing.T) {
	s := NewShared("ws://feed", Options{
		Logger: quietLogger(),
		Dialer: func(string) (Conn, error) { return newFakeConn(), nil },
	})
	defer s.Shutdown()

	p := &Port{C: make(chan Envelope, 1), s: s}
	// must not panic
	p.Send(map[string]string{"type": "subscribe"})
}
