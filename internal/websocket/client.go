// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/validation"
)

// Defaults used when a ClientOptions field is zero.
const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4 * 1024
	defaultSendBuffer     = 256
)

// clientIDCounter gives clients a monotonically increasing id so delivery
// order is stable.
var clientIDCounter atomic.Uint64

// ClientOptions tunes per-connection limits.
type ClientOptions struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

// OptionsFromConfig maps the realtime section onto ClientOptions.
func OptionsFromConfig(cfg config.RealtimeConfig) ClientOptions {
	return ClientOptions{
		SendBuffer:     cfg.SendBuffer,
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		MaxMessageSize: cfg.MaxMessageSize,
	}
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	return o
}

// Client is a middleman between the websocket connection and the hub.
// A client is in at most one room; room is guarded by the hub mutex.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	opts ClientOptions
	room string
}

// NewClient creates a new Client with a unique id.
func NewClient(hub *Hub, conn *websocket.Conn, opts ClientOptions) *Client {
	opts = opts.withDefaults()
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, opts.SendBuffer),
		opts: opts,
	}
}

// ID returns the client's unique identifier
func (c *Client) ID() uint64 {
	return c.id
}

// readPump applies join and leave requests until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				metrics.WSErrors.WithLabelValues("read").Inc()
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		metrics.WSMessagesReceived.Inc()
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		metrics.WSErrors.WithLabelValues("malformed").Inc()
		c.reply(errorFrame("malformed message"))
		return
	}
	if verr := validation.ValidateStruct(&msg); verr != nil {
		metrics.WSErrors.WithLabelValues("invalid").Inc()
		c.reply(errorFrame(verr.ToAPIError().Message))
		return
	}

	switch msg.Event {
	case EventJoinProject:
		c.hub.Join(c, msg.ProjectID)
		logging.Debug().Uint64("client_id", c.id).Str("project_id", msg.ProjectID).Msg("client joined project room")
		c.replyMessage(Message{Event: EventJoined, Data: roomData{ProjectID: msg.ProjectID}})
	case EventLeaveProject:
		if c.hub.Leave(c, msg.ProjectID) {
			c.replyMessage(Message{Event: EventLeft, Data: roomData{ProjectID: msg.ProjectID}})
			return
		}
		c.reply(errorFrame("not a member of project " + msg.ProjectID))
	case EventPing:
		c.replyMessage(Message{Event: EventPong})
	}
}

func (c *Client) replyMessage(msg Message) {
	b, err := MarshalMessage(msg)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode websocket reply")
		return
	}
	c.reply(b)
}

func (c *Client) reply(frame []byte) {
	if !c.hub.sendTo(c, frame) {
		logging.Debug().Uint64("client_id", c.id).Msg("dropping reply to closed or full client")
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				metrics.WSErrors.WithLabelValues("write").Inc()
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
