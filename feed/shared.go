// feed/shared.go
package feed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// sharedReconnectDelay is the fixed retry delay for the shared connection.
// Unlike Client there is no backoff: the shared feed serves many widgets at
// once and reconnects eagerly, independent of subscriber count.
const sharedReconnectDelay = time.Second

const portBuffer = 32

// Envelope is what shared-feed subscribers receive: either a connection
// status change or a raw feed message.
type Envelope struct {
	Type   string          `json:"type"` // "connection" | "message"
	Status string          `json:"status,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Shared multiplexes one physical feed connection across any number of
// in-process subscribers. The first Attach dials; every subscriber sees the
// same stream.
type Shared struct {
	url  string
	log  *logrus.Logger
	dial Dialer

	// writeMu serializes writes: any number of ports may Send concurrently,
	// but the transport supports only one writer at a time.
	writeMu sync.Mutex

	mu             sync.Mutex
	conn           Conn
	connecting     bool
	closed         bool
	gen            int
	ports          map[*Port]struct{}
	reconnectTimer *time.Timer
}

// Port is one subscriber's attachment to a Shared feed. Envelopes arrive on
// C; slow consumers lose envelopes rather than stalling the fan-out.
type Port struct {
	C chan Envelope
	s *Shared
}

func NewShared(url string, opts Options) *Shared {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	dial := opts.Dialer
	if dial == nil {
		dial = gorillaDialer
	}
	return &Shared{
		url:   url,
		log:   log,
		dial:  dial,
		ports: make(map[*Port]struct{}),
	}
}

// Attach registers a new subscriber and dials the physical connection if it
// is not already up.
func (s *Shared) Attach() *Port {
	p := &Port{C: make(chan Envelope, portBuffer), s: s}

	s.mu.Lock()
	s.ports[p] = struct{}{}
	needDial := s.conn == nil && !s.connecting && !s.closed
	if needDial {
		s.connecting = true
	}
	s.mu.Unlock()

	if needDial {
		go s.connect()
	}
	return p
}

// Send forwards a message (typically a table subscribe request) on the
// physical connection. Dropped silently while disconnected, matching the
// feed contract that sends never fail.
func (p *Port) Send(v interface{}) {
	p.s.mu.Lock()
	conn := p.s.conn
	p.s.mu.Unlock()
	if conn == nil {
		p.s.log.Warn("feed: shared send dropped, connection not open")
		return
	}
	p.s.writeMu.Lock()
	err := conn.WriteJSON(v)
	p.s.writeMu.Unlock()
	if err != nil {
		p.s.log.WithError(err).Warn("feed: shared send failed")
	}
}

// Close detaches the subscriber. The physical connection stays up for the
// remaining ports.
func (p *Port) Close() {
	p.s.mu.Lock()
	delete(p.s.ports, p)
	p.s.mu.Unlock()
}

// Shutdown closes the physical connection and stops reconnecting.
func (s *Shared) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.gen++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Connected reports whether the physical connection is open.
func (s *Shared) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Shared) connect() {
	conn, err := s.dial(s.url)

	s.mu.Lock()
	s.connecting = false
	if s.closed {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		s.log.WithError(err).Warn("feed: shared dial failed")
		return
	}
	s.conn = conn
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.broadcast(Envelope{Type: "connection", Status: "connected"})
	go s.readLoop(conn, gen)
}

func (s *Shared) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen)
			return
		}
		if !json.Valid(data) {
			s.log.Warn("feed: shared discarding unparseable message")
			continue
		}
		s.broadcast(Envelope{Type: "message", Data: json.RawMessage(data)})
	}
}

func (s *Shared) handleClose(gen int) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.scheduleReconnectLocked()
	s.mu.Unlock()

	s.broadcast(Envelope{Type: "connection", Status: "disconnected"})
}

func (s *Shared) scheduleReconnectLocked() {
	s.reconnectTimer = time.AfterFunc(sharedReconnectDelay, func() {
		s.mu.Lock()
		if s.closed || s.conn != nil || s.connecting {
			s.mu.Unlock()
			return
		}
		s.connecting = true
		s.mu.Unlock()
		s.connect()
	})
}

func (s *Shared) broadcast(env Envelope) {
	s.mu.Lock()
	ports := make([]*Port, 0, len(s.ports))
	for p := range s.ports {
		ports = append(ports, p)
	}
	s.mu.Unlock()

	for _, p := range ports {
		select {
		case p.C <- env:
		default:
			s.log.Debug("feed: shared subscriber buffer full, dropping envelope")
		}
	}
}
