package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// EventJoinJobGroup is sent by clients to subscribe to a group
const EventJoinJobGroup = "join_job_group"

// Envelope is the JSON frame exchanged in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest is the payload of a join_job_group frame
type JoinRequest struct {
	JobGroupID string `json:"jobGroupId"`
	Token      string `json:"token"`
}

// ConnConfig bounds a websocket connection
type ConnConfig struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	SendBuffer     int
	MaxMessageSize int64
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	return c
}

// Conn adapts a websocket connection to Subscriber
type Conn struct {
	id      string
	ws      *websocket.Conn
	hub     *Hub
	cfg     ConnConfig
	logger  *slog.Logger
	send    chan []byte
	done    chan struct{}
	closing *atomic.Bool
}

func newConn(ws *websocket.Conn, hub *Hub, cfg ConnConfig, logger *slog.Logger) *Conn {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Conn{
		id:      id,
		ws:      ws,
		hub:     hub,
		cfg:     cfg,
		logger:  logger.With(slog.String("conn_id", id)),
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
		closing: atomic.NewBool(false),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues a frame. A full buffer closes the connection.
func (c *Conn) Send(event string, payload any) bool {
	if c.closing.Load() {
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("Failed to marshal realtime payload",
			slog.String("event", event),
			slog.Any("error", err),
		)
		return false
	}

	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("Send buffer full, closing connection")
		c.close()
		return false
	}
}

func (c *Conn) close() {
	if c.closing.CompareAndSwap(false, true) {
		close(c.done)
	}
}

// serve runs the connection until either side hangs up
func (c *Conn) serve(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.hub.Leave(c)
		c.close()
		c.ws.Close()
		c.logger.Debug("Realtime client disconnected")
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Realtime read failed", slog.Any("error", err))
			}
			return
		}

		switch env.Event {
		case EventJoinJobGroup:
			var req JoinRequest
			if err := json.Unmarshal(env.Data, &req); err != nil {
				c.logger.Debug("Ignoring malformed join request", slog.Any("error", err))
				continue
			}
			c.hub.Join(ctx, c, req.JobGroupID, req.Token)
		default:
			c.logger.Debug("Ignoring unknown realtime event", slog.String("event", env.Event))
		}
	}
}

func (c *Conn) writePump() {
	pingInterval := c.cfg.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}
