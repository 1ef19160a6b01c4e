// Package realtime bridges the bidirectional event channel to the ride
// machine and working-hours controller. The channel handle is explicit:
// every caller sees the disconnected state as an error instead of a
// silent no-op.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrDisconnected is returned by Emit while no connection is up.
var ErrDisconnected = errors.New("realtime channel disconnected")

// Envelope is the wire frame: one named event with a JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Channel is the transport handle. Connected only while the driver is
// online; Reconnect backs the accept retry path.
type Channel interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	Emit(event string, payload any) error
	Reconnect(ctx context.Context) error
}

// EventSink receives every inbound envelope plus connect/disconnect
// edges. The adapter implements it.
type EventSink interface {
	HandleEvent(ctx context.Context, event string, data json.RawMessage)
	HandleConnect(ctx context.Context)
	HandleDisconnect(err error)
}

// WSChannel is the websocket implementation of Channel.
type WSChannel struct {
	URL  string
	Sink EventSink

	dialer *websocket.Dialer
	log    *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
}

func NewWSChannel(url string, sink EventSink, log *slog.Logger) *WSChannel {
	if log == nil {
		log = slog.Default()
	}
	return &WSChannel{URL: url, Sink: sink, dialer: websocket.DefaultDialer, log: log}
}

func (c *WSChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	conn, _, err := c.dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(loopCtx, conn)
	if c.Sink != nil {
		c.Sink.HandleConnect(ctx)
	}
	return nil
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *WSChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *WSChannel) Emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	// gorilla connections allow one concurrent writer
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *WSChannel) Reconnect(ctx context.Context) error {
	_ = c.Close()
	return c.Connect(ctx)
}

func (c *WSChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if ctx.Err() == nil && c.Sink != nil {
				c.Sink.HandleDisconnect(err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.log.Warn("invalid envelope", "error", err)
			continue
		}
		if c.Sink != nil {
			c.Sink.HandleEvent(ctx, env.Event, env.Data)
		}
	}
}
