// feed/client.go
package feed

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of the logical connection.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

const (
	// DefaultMaxRetries bounds automatic reconnect attempts unless
	// Options.Unbounded is set.
	DefaultMaxRetries = 10

	heartbeatInterval = 30 * time.Second
	maxBackoff        = 30 * time.Second
)

// ErrClosed is returned by Connect after Close has been called.
var ErrClosed = errors.New("feed: client closed")

// Conn is the slice of *websocket.Conn the client needs. Tests substitute a
// fake; production uses gorilla via the default dialer.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a transport to the feed endpoint.
type Dialer func(url string) (Conn, error)

func gorillaDialer(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options tunes a Client. The zero value reconnects automatically with the
// default retry cap and heartbeat.
type Options struct {
	DisableAutoReconnect bool
	MaxRetries           int  // 0 means DefaultMaxRetries
	Unbounded            bool // retry forever, ignoring MaxRetries
	HeartbeatInterval    time.Duration
	Dialer               Dialer
	Logger               *logrus.Logger
}

type feedMessage struct {
	Type          string        `json:"type"`
	Last20Results []ResultEvent `json:"last20Results"`
}

type pingMessage struct {
	Type string `json:"type"`
}

// Client keeps one logical connection to the live feed alive across
// transport failures. The underlying conn is replaced transparently on
// reconnect; subscribers never see the swap, only connectivity events.
type Client struct {
	url  string
	opts Options
	log  *logrus.Logger
	dial Dialer

	// writeMu serializes writes on the transport: gorilla supports at most
	// one concurrent writer per connection, and the heartbeat, the subscribe
	// replay and Send all run on different goroutines.
	writeMu sync.Mutex

	mu             sync.Mutex
	conn           Conn
	state          State
	attempts       int
	closed         bool
	gen            int // connection generation; stale read loops are ignored
	subscribe      interface{}
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer

	window   Window
	onResult []func(ResultEvent)
	onConn   []func(bool)
}

func NewClient(url string, opts Options) *Client {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = heartbeatInterval
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	dial := opts.Dialer
	if dial == nil {
		dial = gorillaDialer
	}
	return &Client{
		url:   url,
		opts:  opts,
		log:   log,
		dial:  dial,
		state: StateIdle,
	}
}

// Backoff returns the delay before reconnect attempt attempts+1:
// min(1s * 2^attempts, 30s).
func Backoff(attempts int) time.Duration {
	if attempts > 5 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// OnResult registers cb to run once per unique inbound result.
func (c *Client) OnResult(cb func(ResultEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResult = append(c.onResult, cb)
}

// OnConnectionChange registers cb to run on every transport state change.
func (c *Client) OnConnectionChange(cb func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConn = append(c.onConn, cb)
}

// Connect opens the transport and sends the subscribe payload once open.
// Calling it while already open or connecting is a no-op. A nil payload
// reuses the payload from the previous call (reconnect path).
func (c *Client) Connect(payload interface{}) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	if payload != nil {
		c.subscribe = payload
	}
	gen := c.gen
	c.mu.Unlock()

	conn, err := c.dial(c.url)
	if err != nil {
		c.log.WithError(err).WithField("url", c.url).Warn("feed: dial failed")
		c.handleDisconnect(gen)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.gen++
	gen = c.gen
	stop := make(chan struct{})
	c.heartbeatStop = stop
	sub := c.subscribe
	c.mu.Unlock()

	if sub != nil {
		if err := c.writeJSON(conn, sub); err != nil {
			c.log.WithError(err).Warn("feed: subscribe send failed")
		}
	}

	c.notifyConn(true)
	go c.heartbeatLoop(conn, stop)
	go c.readLoop(conn, gen)
	return nil
}

// WakeUp forces an immediate reconnect attempt, bypassing any scheduled
// backoff. Used when a dormant consumer becomes active again (the
// page-visibility recovery path).
func (c *Client) WakeUp() {
	c.mu.Lock()
	if c.closed || c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()
	_ = c.Connect(nil)
}

// Send forwards v on the live transport. When no transport is open the
// message is dropped and logged; Send never fails the caller.
func (c *Client) Send(v interface{}) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.log.Warn("feed: send dropped, connection not open")
		return
	}
	if err := c.writeJSON(conn, v); err != nil {
		c.log.WithError(err).Warn("feed: send failed")
	}
}

func (c *Client) writeJSON(conn Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Close tears the client down: pending reconnects are cancelled, the
// heartbeat stops and the transport is closed. The client cannot be reused.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.state = StateClosed
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Connected reports whether the transport is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the reconnect-attempt counter.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Results returns the retained result window, newest first.
func (c *Client) Results() []ResultEvent {
	return c.window.Snapshot()
}

func (c *Client) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen)
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage parses one inbound frame. Heartbeat acks are filtered, parse
// errors are logged and dropped, and only the newest entry of a results
// snapshot is considered. Duplicate timestamps never reach subscribers.
func (c *Client) handleMessage(data []byte) {
	var msg feedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.WithError(err).Warn("feed: discarding unparseable message")
		return
	}
	if msg.Type == "pong" {
		return
	}
	if len(msg.Last20Results) == 0 {
		return
	}

	ev := msg.Last20Results[0]
	if !c.window.Push(ev) {
		return
	}

	c.mu.Lock()
	callbacks := make([]func(ResultEvent), len(c.onResult))
	copy(callbacks, c.onResult)
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb(ev)
	}
}

func (c *Client) heartbeatLoop(conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.writeJSON(conn, pingMessage{Type: "ping"}); err != nil {
				c.log.WithError(err).Debug("feed: heartbeat send failed")
			}
		}
	}
}

// handleDisconnect transitions to closed and, when the retry policy allows,
// schedules the next Connect. gen guards against a stale read loop reporting
// a failure for a transport that has already been replaced.
func (c *Client) handleDisconnect(gen int) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed

	retry := !c.opts.DisableAutoReconnect &&
		(c.opts.Unbounded || c.attempts < c.opts.MaxRetries)
	if retry {
		delay := Backoff(c.attempts)
		c.attempts++
		attempt := c.attempts
		c.log.WithFields(logrus.Fields{
			"delay":   delay,
			"attempt": attempt,
		}).Info("feed: scheduling reconnect")
		c.reconnectTimer = time.AfterFunc(delay, func() {
			_ = c.Connect(nil)
		})
	}
	c.mu.Unlock()

	c.notifyConn(false)
}

func (c *Client) notifyConn(connected bool) {
	c.mu.Lock()
	callbacks := make([]func(bool), len(c.onConn))
	copy(callbacks, c.onConn)
	c.mu.Unlock()
	for _, cb := range callbacks {
		cb(connected)
	}
}
