// Package wsconn is the station side connection manager: one connection per relay channel,
// reconnected with capped exponential backoff, dispatching inbound messages by type.
package wsconn

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/astromechza/comanda-relay/pkg/order"
)

var ErrNotConnected = errors.New("not connected")

type Handler func(msg order.Message)

type Config struct {
	// Name labels log lines, e.g. "kitchen" or "bar".
	Name      string
	URL       string
	Backoff   Policy
	Transport Transport
	// Wait pauses between reconnect attempts. Tests replace it to observe the delays.
	Wait func(ctx context.Context, d time.Duration) error
}

type Conn struct {
	cfg Config

	mu       sync.Mutex
	handlers map[string][]Handler
	socket   Socket
	retry    int
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu sync.Mutex
}

func New(cfg Config) *Conn {
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultPolicy
	}
	if cfg.Transport == nil {
		cfg.Transport = WebsocketTransport{}
	}
	if cfg.Wait == nil {
		cfg.Wait = sleep
	}
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}
	return &Conn{cfg: cfg, handlers: make(map[string][]Handler)}
}

// On registers a handler for one message type. Handlers run on the connection's read goroutine
// in registration order.
func (c *Conn) On(msgType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
}

// Connect starts the connection loop. It is a no-op while the loop is already running.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Close stops reconnecting and closes the open socket, if any.
func (c *Conn) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket != nil
}

func (c *Conn) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry
}

// Send writes msg if the connection is open. Nothing is queued: while disconnected the message
// is logged and dropped, and ErrNotConnected is returned.
func (c *Conn) Send(msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	c.mu.Lock()
	s := c.socket
	c.mu.Unlock()
	if s == nil {
		slog.Error("not connected, message dropped", "conn", c.cfg.Name, "message", string(raw))
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := s.WriteMessage(raw); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *Conn) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		s, err := c.cfg.Transport.Dial(ctx, c.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("connection failed", "conn", c.cfg.Name, "url", c.cfg.URL, "err", err)
		} else {
			c.serve(ctx, s)
			if ctx.Err() != nil {
				return
			}
			slog.Warn("disconnected, reconnecting", "conn", c.cfg.Name)
		}

		c.mu.Lock()
		delay := c.cfg.Backoff.Delay(c.retry)
		c.retry++
		c.mu.Unlock()
		slog.Info("scheduled reconnect", "conn", c.cfg.Name, "delay", delay)
		if err := c.cfg.Wait(ctx, delay); err != nil {
			return
		}
	}
}

// serve owns one open socket until it fails or ctx ends.
func (c *Conn) serve(ctx context.Context, s Socket) {
	c.mu.Lock()
	c.socket = s
	c.retry = 0
	c.mu.Unlock()
	slog.Info("connected", "conn", c.cfg.Name, "url", c.cfg.URL)

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		c.socket = nil
		c.mu.Unlock()
		_ = s.Close()
	}()

	for {
		raw, err := s.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("read failed", "conn", c.cfg.Name, "err", err)
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *Conn) dispatch(raw []byte) {
	msg, err := order.DecodeMessage(raw)
	if err != nil || msg.Type == "" {
		slog.Error("ignoring malformed message", "conn", c.cfg.Name, "err", err)
		return
	}
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[msg.Type]...)
	c.mu.Unlock()
	for _, h := range handlers {
		c.call(h, msg)
	}
}

func (c *Conn) call(h Handler, msg order.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked", "conn", c.cfg.Name, "type", msg.Type, "panic", r)
		}
	}()
	h(msg)
}
