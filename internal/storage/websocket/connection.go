package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/nowa-engine/raycastvehicle/pkg/streaming"
)

const (
	sendChSize   = 10_000
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

var errClosed = errors.New("websocket connection closed")

// connection owns one viewer socket at a time. A supervisor goroutine serves the
// socket and redials with backoff when it breaks; messages queued meanwhile wait in sendCh.
type connection struct {
	sendCh  chan []byte
	ackCh   chan streaming.AckMessage
	done    chan struct{}
	stopped chan struct{}
	dropped atomic.Uint64
	running atomic.Bool

	mu     sync.Mutex
	conn   *ws.Conn
	closed bool
	// replay is re-sent on every new socket: the run header, then each vehicle by id.
	startMsg    []byte
	vehicleMsgs map[uint16][]byte

	dialURL string
	logger  *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:      make(chan []byte, sendChSize),
		ackCh:       make(chan streaming.AckMessage, ackChSize),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		vehicleMsgs: make(map[uint16][]byte),
		logger:      logger,
	}
}

// dial connects once and hands the socket to the supervisor. The first dial
// must succeed; later failures are retried in the background.
func (c *connection) dial(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", secret)
	u.RawQuery = q.Encode()
	c.dialURL = u.String()

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	c.setConn(conn)
	c.running.Store(true)
	go c.supervise(conn)
	return nil
}

func (c *connection) dialOnce() (*ws.Conn, error) {
	conn, _, err := ws.DefaultDialer.Dial(c.dialURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) setConn(conn *ws.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// supervise serves conn until it fails, then redials until the connection is closed
// or every attempt is spent.
func (c *connection) supervise(conn *ws.Conn) {
	defer close(c.stopped)

	for {
		err := c.serve(conn)
		_ = conn.Close()
		c.setConn(nil)
		if errors.Is(err, errClosed) {
			return
		}
		c.logger.Warn("WebSocket connection lost", "error", err)

		conn = c.redial()
		if conn == nil {
			return
		}
		c.setConn(conn)
	}
}

// serve runs the read loop in the background and writes until either side fails.
func (c *connection) serve(conn *ws.Conn) error {
	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	return c.writeLoop(conn, readErr)
}

func (c *connection) writeLoop(conn *ws.Conn, readErr <-chan error) error {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			return errClosed
		case err := <-readErr:
			return err
		case <-ping.C:
			if err := conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case data := <-c.sendCh:
			if err := write(conn, data); err != nil {
				// the message is lost with the socket; replay covers run and vehicles
				return err
			}
		}
	}
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readLoop routes acks to ackCh. Pongs extend the read deadline.
func (c *connection) readLoop(conn *ws.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Ignoring viewer message", "raw", string(message))
			continue
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

// redial retries with exponential backoff and replays the run state on success.
func (c *connection) redial() *ws.Conn {
	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return nil
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt)
		conn, err := c.dialOnce()
		if err == nil {
			err = c.replay(conn)
			if err == nil {
				c.logger.Info("WebSocket reconnected", "attempt", attempt)
				return conn
			}
			_ = conn.Close()
		}
		c.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
		backoff = min(backoff*2, maxBackoff)
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
	return nil
}

// replay re-sends the run header and vehicle registrations so the viewer can
// attach the samples that follow.
func (c *connection) replay(conn *ws.Conn) error {
	c.mu.Lock()
	var msgs [][]byte
	if c.startMsg != nil {
		msgs = append(msgs, c.startMsg)
		for _, m := range c.vehicleMsgs {
			msgs = append(msgs, m)
		}
	}
	c.mu.Unlock()

	for _, m := range msgs {
		if err := write(conn, m); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}
	return nil
}

// remember keeps the run header for replay and forgets the previous run's vehicles.
// A nil header clears the replay state.
func (c *connection) remember(start []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startMsg = start
	c.vehicleMsgs = make(map[uint16][]byte)
}

func (c *connection) rememberVehicle(id uint16, msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startMsg != nil {
		c.vehicleMsgs[id] = msg
	}
}

// send queues data for the writer. It never blocks; a full queue drops the message.
func (c *connection) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		if c.dropped.Add(1)%1000 == 1 {
			c.logger.Warn("WebSocket send queue full, dropping messages", "dropped", c.dropped.Load())
		}
	}
}

// sendAndWait queues data and blocks until the viewer acks ackFor or the timeout expires.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("waiting for ack of %q: %w", ackFor, errClosed)
		}
	}
}

// close sends a close frame and waits for the supervisor to exit.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
	}
	close(c.done)
	if c.running.Load() {
		<-c.stopped
	}
	return nil
}
