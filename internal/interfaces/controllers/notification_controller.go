package controllers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/interfaces/presenters"
	"github.com/treservi/notify-engine/internal/usecases/notification"
	"github.com/treservi/notify-engine/pkg/client"
)

// NotificationController serves unread counts, badge sync and appointment fan-out
type NotificationController struct {
	countUnreadUC  *notification.CountUnreadUseCase
	dispatcher     *notification.Dispatcher
	presenter      presenters.NotificationPresenter
	vapidPublicKey string
	logger         *slog.Logger
}

// NewNotificationController creates a new NotificationController
func NewNotificationController(
	countUnreadUC *notification.CountUnreadUseCase,
	dispatcher *notification.Dispatcher,
	presenter presenters.NotificationPresenter,
	vapidPublicKey string,
	logger *slog.Logger,
) *NotificationController {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationController{
		countUnreadUC:  countUnreadUC,
		dispatcher:     dispatcher,
		presenter:      presenter,
		vapidPublicKey: vapidPublicKey,
		logger:         logger.With("component", "notifications"),
	}
}

// GetName returns the name of this controller for logging
func (c *NotificationController) GetName() string {
	return "NotificationController"
}

func (c *NotificationController) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications/unread-count", c.UnreadCount)
	g.POST("/notifications/badge", c.SyncBadge)
	g.POST("/appointments/events", c.AppointmentCreated)
	g.GET("/vapid-public-key", c.VAPIDPublicKey)
}

// UnreadCount handles GET /api/notifications/unread-count?role=&salon_id=&staff_id=&since=
func (c *NotificationController) UnreadCount(ctx echo.Context) error {
	scope := entities.Scope{
		Role:    entities.Role(ctx.QueryParam("role")),
		SalonID: ctx.QueryParam("salon_id"),
		StaffID: ctx.QueryParam("staff_id"),
	}

	var since time.Time
	if raw := ctx.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		since = parsed
	}

	count, err := c.countUnreadUC.Execute(ctx.Request().Context(), scope, since)
	if err != nil {
		if errors.Is(err, entities.ErrInvalidScope) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		c.logger.Error("failed to count unread", "scope", scope.Key(), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to count unread appointments")
	}
	return c.presenter.PresentUnreadCount(ctx, count)
}

// SyncBadge handles POST /api/notifications/badge
func (c *NotificationController) SyncBadge(ctx echo.Context) error {
	var req client.BadgeRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if req.Count < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "count cannot be negative")
	}

	result, err := c.dispatcher.SyncBadge(ctx.Request().Context(), entities.UserID(req.UserID), req.Count)
	if err != nil {
		c.logger.Error("failed to sync badge", "user_id", req.UserID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to sync badge")
	}
	return c.presenter.PresentDispatch(ctx, result)
}

// AppointmentCreated handles POST /api/appointments/events, the hook a booking backend
// calls after inserting an appointment
func (c *NotificationController) AppointmentCreated(ctx echo.Context) error {
	var appointment entities.AppointmentEvent
	if err := ctx.Bind(&appointment); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := appointment.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := c.dispatcher.Dispatch(ctx.Request().Context(), &appointment)
	if err != nil {
		c.logger.Error("failed to dispatch appointment", "appointment_id", appointment.ID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to dispatch appointment")
	}
	return c.presenter.PresentDispatch(ctx, result)
}

// VAPIDPublicKey handles GET /api/vapid-public-key
func (c *NotificationController) VAPIDPublicKey(ctx echo.Context) error {
	if c.vapidPublicKey == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "web push is not configured")
	}
	return ctx.JSON(http.StatusOK, client.VAPIDKeyResponse{PublicKey: c.vapidPublicKey})
}
