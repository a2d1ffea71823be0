// Package transport connects the engine to a debug server over a websocket.
// Each websocket text message carries one JSON-encoded frame.
package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iksnae/sockdebug/internal"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	frameBuffer             = 64
)

// ErrClosed is returned when sending on a closed connection
var ErrClosed = errors.New("connection closed")

// Config describes how to reach the server
type Config struct {
	URL              string
	Retries          int
	Backoff          BackoffConfig
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Conn is a websocket-backed internal.Transport
type Conn struct {
	ws     *websocket.Conn
	frames chan internal.Frame

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

var _ internal.Transport = (*Conn)(nil)

// Dial connects to cfg.URL, retrying with backoff up to cfg.Retries extra times
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff()
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= cfg.Retries+1; attempt++ {
		ws, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			internal.LogDebug("Connected to %s", cfg.URL)
			return newConn(ws), nil
		}
		lastErr = err
		if attempt > cfg.Retries {
			break
		}

		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		internal.LogWarn("Dial %s failed (attempt %d): %v, retrying in %s", cfg.URL, attempt, err, delay)
		select {
		case <-ctx.Done():
			return nil, &internal.TransportError{Op: "dial", Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	return nil, &internal.TransportError{Op: "dial", Err: fmt.Errorf("%s: %w", cfg.URL, lastErr)}
}

// newConn wraps an established websocket and starts reading frames
func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:     ws,
		frames: make(chan internal.Frame, frameBuffer),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					internal.LogWarn("Connection lost: %v", err)
				}
			}
			return
		}
		f, err := internal.DecodeFrame(data)
		if err != nil {
			internal.LogDebug("Skipping malformed frame: %v", err)
			continue
		}
		select {
		case c.frames <- f:
		case <-c.done:
			return
		}
	}
}

// Frames delivers inbound frames in arrival order; closed when the connection ends
func (c *Conn) Frames() <-chan internal.Frame {
	return c.frames
}

// Send writes one frame. Concurrent senders are serialised.
func (c *Conn) Send(ctx context.Context, f internal.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := internal.EncodeFrame(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close message and tears down the connection
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
