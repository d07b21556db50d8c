package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	minRedialBackoff = time.Second
	maxRedialBackoff = 30 * time.Second
)

// WebSocketSink pushes events as JSON messages over a websocket connection. Publish only queues
// the event; a background writer dials on first use, re-dials once after a failed write and backs
// off re-dialling after a failed handshake.
type WebSocketSink struct {
	conn  *wsConn
	queue *AsyncSink
}

// NewWebSocketSink creates a sink for url (ws:// or wss://). Close releases it.
func NewWebSocketSink(url string, header http.Header, logger hclog.Logger) *WebSocketSink {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("ws-sink")
	conn := &wsConn{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
		now:    time.Now,
	}
	return &WebSocketSink{
		conn:  conn,
		queue: NewAsyncSink(conn, AsyncOptions{}, logger),
	}
}

func (s *WebSocketSink) Publish(ctx context.Context, ev ProgressEvent) error {
	return s.queue.Publish(ctx, ev)
}

// Close flushes queued events, sends a close frame and releases the connection.
func (s *WebSocketSink) Close() error {
	return errors.Join(s.queue.Close(), s.conn.Close())
}

// wsConn writes events synchronously; it is driven by the sink's queue.
type wsConn struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger hclog.Logger
	now    func() time.Time

	mu       sync.Mutex
	conn     *websocket.Conn
	failures int
	retryAt  time.Time
}

func (c *wsConn) Publish(ctx context.Context, ev ProgressEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if c.conn == nil {
			if err = c.dial(ctx); err != nil {
				break
			}
		}
		if err = c.write(ctx, ev); err == nil {
			return nil
		}
		c.logger.Warn("failed to write progress event, reconnecting", "task", ev.TaskID, "error", err)
		c.conn.Close()
		c.conn = nil
	}
	return fmt.Errorf("failed to publish progress event: %w", err)
}

func (c *wsConn) dial(ctx context.Context) error {
	if now := c.now(); now.Before(c.retryAt) {
		return fmt.Errorf("reconnect to %s backed off for %s", c.url, c.retryAt.Sub(now).Round(time.Millisecond))
	}
	// cancelling ctx interrupts a handshake that is stuck reading the response
	var stop func() bool
	dialer := *c.dialer
	dialer.NetDialContext = func(dctx context.Context, network, addr string) (net.Conn, error) {
		nc, err := (&net.Dialer{}).DialContext(dctx, network, addr)
		if err == nil {
			stop = context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
		}
		return nc, err
	}
	conn, resp, err := dialer.DialContext(ctx, c.url, c.header)
	if stop != nil {
		stop()
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.failures++
		backoff := minRedialBackoff << min(c.failures-1, 5)
		c.retryAt = c.now().Add(min(backoff, maxRedialBackoff))
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}
	c.failures = 0
	c.retryAt = time.Time{}
	c.conn = conn
	return nil
}

func (c *wsConn) write(ctx context.Context, ev ProgressEvent) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(ev)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}
