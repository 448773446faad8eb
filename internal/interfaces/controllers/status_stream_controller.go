package controllers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// StatusStreamController streams session snapshots over a WebSocket
type StatusStreamController struct {
	session  AgentSession
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStatusStreamController creates a new StatusStreamController
func NewStatusStreamController(session AgentSession, logger *slog.Logger) *StatusStreamController {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusStreamController{
		session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the agent API listens on a local address only
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "status_stream"),
	}
}

// GetName returns the name of this controller for logging
func (c *StatusStreamController) GetName() string {
	return "StatusStreamController"
}

func (c *StatusStreamController) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", c.Stream)
}

// Stream handles GET /ws. The current snapshot is sent first, then every change.
func (c *StatusStreamController) Stream(ctx echo.Context) error {
	conn, err := c.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already wrote the error response
		c.logger.Debug("websocket upgrade failed", "error", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	updates, stop := c.session.Watch()
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	if err := c.write(conn, c.session.Snapshot()); err != nil {
		return nil
	}
	for {
		select {
		case <-closed:
			return nil
		case <-ctx.Request().Context().Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"),
					time.Now().Add(streamWriteWait))
				return nil
			}
			if err := c.write(conn, snap); err != nil {
				c.logger.Debug("status stream closed", "error", err)
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return nil
			}
		}
	}
}

func (c *StatusStreamController) write(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
