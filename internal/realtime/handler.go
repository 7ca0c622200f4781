package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to realtime websocket connections
type Handler struct {
	hub      *Hub
	cfg      ConnConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket endpoint. An empty allowedOrigins list
// accepts every origin.
func NewHandler(hub *Hub, cfg ConnConfig, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// ServeWS handles GET /ws
func (h *Handler) ServeWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Debug("Websocket upgrade failed", slog.Any("error", err))
		return
	}

	conn := newConn(ws, h.hub, h.cfg, h.logger)
	conn.logger.Debug("Realtime client connected", slog.String("ip", c.ClientIP()))

	// The request context ends when the handler returns, so the connection
	// runs on a detached one.
	conn.serve(context.WithoutCancel(c.Request.Context()))
}
