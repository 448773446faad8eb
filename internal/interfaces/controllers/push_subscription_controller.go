package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/interfaces/presenters"
	"github.com/treservi/notify-engine/internal/usecases/notification"
	"github.com/treservi/notify-engine/pkg/client"
)

// PushSubscriptionController handles the push subscription registry
type PushSubscriptionController struct {
	manageSubscriptionUC *notification.ManageSubscriptionUseCase
	presenter            presenters.NotificationPresenter
	logger               *slog.Logger
}

// NewPushSubscriptionController creates a new PushSubscriptionController
func NewPushSubscriptionController(
	manageSubscriptionUC *notification.ManageSubscriptionUseCase,
	presenter presenters.NotificationPresenter,
	logger *slog.Logger,
) *PushSubscriptionController {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushSubscriptionController{
		manageSubscriptionUC: manageSubscriptionUC,
		presenter:            presenter,
		logger:               logger.With("component", "push_subscriptions"),
	}
}

// GetName returns the name of this controller for logging
func (c *PushSubscriptionController) GetName() string {
	return "PushSubscriptionController"
}

func (c *PushSubscriptionController) RegisterRoutes(g *echo.Group) {
	g.POST("/push-subscriptions", c.CreateSubscription)
	g.GET("/push-subscriptions", c.ListSubscriptions)
	g.DELETE("/push-subscriptions", c.DeleteSubscription)
}

// CreateSubscription handles POST /api/push-subscriptions
func (c *PushSubscriptionController) CreateSubscription(ctx echo.Context) error {
	var req client.SubscriptionRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch {
	case req.UserID == "":
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	case req.Endpoint == "":
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint is required")
	case req.Keys.P256dh == "" || req.Keys.Auth == "":
		return echo.NewHTTPError(http.StatusBadRequest, "keys.p256dh and keys.auth are required")
	}
	if req.UserAgent == "" {
		req.UserAgent = ctx.Request().UserAgent()
	}

	record, err := c.manageSubscriptionUC.CreateSubscription(ctx.Request().Context(), &notification.CreateSubscriptionRequest{
		UserID:    entities.UserID(req.UserID),
		Endpoint:  req.Endpoint,
		Keys:      entities.EncryptionKeys{P256dh: req.Keys.P256dh, Auth: req.Keys.Auth},
		UserAgent: req.UserAgent,
	})
	if err != nil {
		c.logger.Error("failed to save subscription", "user_id", req.UserID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save subscription")
	}

	c.logger.Info("subscription saved", "user_id", req.UserID, "subscription_id", record.ID())
	return c.presenter.PresentSubscription(ctx, http.StatusCreated, record)
}

// ListSubscriptions handles GET /api/push-subscriptions?user_id=
func (c *PushSubscriptionController) ListSubscriptions(ctx echo.Context) error {
	userID := ctx.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	records, err := c.manageSubscriptionUC.ListSubscriptions(ctx.Request().Context(), entities.UserID(userID))
	if err != nil {
		c.logger.Error("failed to list subscriptions", "user_id", userID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list subscriptions")
	}
	return c.presenter.PresentSubscriptions(ctx, records)
}

// DeleteSubscription handles DELETE /api/push-subscriptions. The endpoint comes from the
// JSON body or the endpoint query parameter.
func (c *PushSubscriptionController) DeleteSubscription(ctx echo.Context) error {
	var req struct {
		Endpoint string `json:"endpoint" query:"endpoint"`
	}
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Endpoint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint is required")
	}

	if err := c.manageSubscriptionUC.DeleteSubscription(ctx.Request().Context(), req.Endpoint); err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
		}
		c.logger.Error("failed to retire subscription", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to retire subscription")
	}
	return ctx.NoContent(http.StatusNoContent)
}
