package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrNotConnected is returned by Emit while no connection is open.
var ErrNotConnected = errors.New("transport: not connected")

// Handler receives every inbound envelope, plus synthesized connect and
// disconnect events, on the client's read goroutine.
type Handler func(ctx context.Context, env Envelope)

// ClientOptions tunes a Client. Zero values pick defaults.
type ClientOptions struct {
	Header http.Header
	// HeaderFunc, when set, adds headers computed at each dial, such as a
	// session id provisioned after the first connection.
	HeaderFunc func() http.Header

	WriteTimeout   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ReadLimit      int64
	Logger         *slog.Logger
}

// Client is a websocket client that reconnects until its context ends.
type Client struct {
	url     string
	handler Handler
	opts    ClientOptions
	log     *slog.Logger

	mu   sync.RWMutex
	conn *websocket.Conn
}

// NewClient creates a client for the given ws:// or wss:// URL.
func NewClient(url string, handler Handler, opts ClientOptions) *Client {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{url: url, handler: handler, opts: opts, log: log}
}

// Run keeps a connection open until ctx is done. Each connection is
// announced with a connect event and its loss with a disconnect event.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff

	for {
		err := c.serve(ctx, b)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		c.log.Warn("Websocket connection lost, reconnecting", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) serve(ctx context.Context, b *backoff.ExponentialBackOff) error {
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: c.dialHeader()})
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(c.opts.ReadLimit)
	b.Reset()

	c.setConn(conn)
	c.log.Info("Websocket connected", "url", c.url)
	c.handler(ctx, Envelope{Event: EventConnect})

	defer func() {
		c.setConn(nil)
		_ = conn.CloseNow()
		c.handler(ctx, Envelope{Event: EventDisconnect})
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return fmt.Errorf("closed by server: %w", err)
			}
			return fmt.Errorf("read: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.log.Warn("Dropping malformed frame", "error", err, "bytes", len(data))
			continue
		}
		c.handler(ctx, env)
	}
}

// Emit sends one event. It fails fast with ErrNotConnected while the
// connection is down; nothing is buffered.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	return c.current() != nil
}

// Close closes the open connection, if any. Run keeps reconnecting until
// its context is cancelled.
func (c *Client) Close() error {
	conn := c.current()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client closing")
}

func (c *Client) dialHeader() http.Header {
	h := c.opts.Header.Clone()
	if c.opts.HeaderFunc == nil {
		return h
	}
	if h == nil {
		h = http.Header{}
	}
	for k, vs := range c.opts.HeaderFunc() {
		h[k] = vs
	}
	return h
}

func (c *Client) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}
