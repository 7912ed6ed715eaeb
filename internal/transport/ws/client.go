package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/peersync"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned by Broadcast while no relay connection is up.
var ErrNotConnected = errors.New("ws: not connected to relay")

// Handler receives the body of every frame on the client's channel.
type Handler func(ctx context.Context, body []byte)

// Client is a peer transport over a relay connection. Run keeps the connection alive and
// Broadcast writes through whichever connection is current.
type Client struct {
	url        string
	dialer     *websocket.Dialer
	newBackOff func() backoff.BackOff
	logger     *logrus.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewClient prepares a client for the relay at rawURL joining groups.
func NewClient(rawURL string, groups Groups, logger *logrus.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, v := range groups.query() {
		q[k] = v
	}
	u.RawQuery = q.Encode()

	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		url:    u.String(),
		dialer: websocket.DefaultDialer,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
		logger: logger,
	}, nil
}

// Connected reports whether a relay connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Broadcast implements peersync.Transport.
func (c *Client) Broadcast(ctx context.Context, channel string, scope peersync.Scope, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := json.Marshal(Frame{Channel: channel, Scope: scope, Body: data})
	if err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Run dials the relay and hands frames on channel to handle until ctx is done, redialing
// with backoff whenever the connection drops.
func (c *Client) Run(ctx context.Context, channel string, handle Handler) error {
	b := c.newBackOff()
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			b.Reset()
			c.logger.WithField("relay", c.url).Info("ws: Run - connected to relay")
			c.serve(ctx, conn, channel, handle)
		} else {
			c.logger.WithError(err).Warn("ws: Run - dial failed")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return errors.New("ws: relay unreachable")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn, channel string, handle Handler) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadLimit(maxFrame)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.WithError(err).Warn("ws: serve - relay connection lost")
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.WithError(err).Debug("ws: serve - discarding malformed frame")
			continue
		}
		if frame.Channel != channel {
			continue
		}
		handle(ctx, frame.Body)
	}
}
