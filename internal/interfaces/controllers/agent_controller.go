package controllers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/notification"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

// maxPushBody bounds an encrypted push request; push services cap payloads at 4KiB
const maxPushBody = 8 << 10

// AgentSession is the session surface the device agent exposes over HTTP
type AgentSession interface {
	Snapshot() notification.Snapshot
	Refresh(ctx context.Context) int
	MarkAllAsRead(ctx context.Context)
	EnableNotifications(ctx context.Context) bool
	DisableNotifications(ctx context.Context) bool
	HandlePush(ctx context.Context, message *entities.PushMessage) error
	Watch() (<-chan notification.Snapshot, func())
}

// PushReceiver verifies and decrypts a web push request addressed to a local channel
type PushReceiver interface {
	Receive(ctx context.Context, channelID string, body []byte, authorization string) (*entities.PushMessage, error)
}

// AgentController handles the device agent endpoints
type AgentController struct {
	session  AgentSession
	receiver PushReceiver
	logger   *slog.Logger
}

// NewAgentController creates a new AgentController. A nil receiver disables the push route.
func NewAgentController(session AgentSession, receiver PushReceiver, logger *slog.Logger) *AgentController {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentController{
		session:  session,
		receiver: receiver,
		logger:   logger.With("component", "agent_api"),
	}
}

// GetName returns the name of this controller for logging
func (c *AgentController) GetName() string {
	return "AgentController"
}

func (c *AgentController) RegisterRoutes(g *echo.Group) {
	g.GET("/status", c.Status)
	g.POST("/refresh", c.Refresh)
	g.POST("/mark-all-read", c.MarkAllAsRead)
	g.POST("/notifications/enable", c.EnableNotifications)
	g.POST("/notifications/disable", c.DisableNotifications)
	if c.receiver != nil {
		g.POST("/push/:channel", c.ReceivePush)
	}
}

// Status handles GET /status
func (c *AgentController) Status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.session.Snapshot())
}

// Refresh handles POST /refresh
func (c *AgentController) Refresh(ctx echo.Context) error {
	c.session.Refresh(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, c.session.Snapshot())
}

// MarkAllAsRead handles POST /mark-all-read
func (c *AgentController) MarkAllAsRead(ctx echo.Context) error {
	c.session.MarkAllAsRead(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, c.session.Snapshot())
}

// EnableNotifications handles POST /notifications/enable
func (c *AgentController) EnableNotifications(ctx echo.Context) error {
	enabled := c.session.EnableNotifications(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, map[string]any{
		"enabled":  enabled,
		"snapshot": c.session.Snapshot(),
	})
}

// DisableNotifications handles POST /notifications/disable
func (c *AgentController) DisableNotifications(ctx echo.Context) error {
	disabled := c.session.DisableNotifications(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, map[string]any{
		"disabled": disabled,
		"snapshot": c.session.Snapshot(),
	})
}

// ReceivePush handles POST /push/:channel, the endpoint push services deliver to
func (c *AgentController) ReceivePush(ctx echo.Context) error {
	req := ctx.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxPushBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	if len(body) > maxPushBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}

	message, err := c.receiver.Receive(req.Context(), ctx.Param("channel"), body, req.Header.Get(echo.HeaderAuthorization))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownChannel):
			return echo.NewHTTPError(http.StatusGone, "push channel closed")
		case errors.Is(err, services.ErrPushUnauthorized):
			return echo.NewHTTPError(http.StatusForbidden, "push authorization rejected")
		}
		c.logger.Warn("rejected push", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid push message")
	}

	if err := c.session.HandlePush(req.Context(), message); err != nil {
		c.logger.Warn("unhandled push message", "type", message.Type, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return ctx.NoContent(http.StatusCreated)
}
