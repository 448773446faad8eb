package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
	"github.com/treservi/notify-engine/pkg/utils"
)

// VAPIDConfig holds the application server identity used to sign push requests
type VAPIDConfig struct {
	PublicKey  string        `mapstructure:"public_key"`
	PrivateKey string        `mapstructure:"private_key"`
	Subject    string        `mapstructure:"subject"`
	TTL        time.Duration `mapstructure:"ttl"`
	Urgency    string        `mapstructure:"urgency"`
}

// Validate ensures every key required for signing is present
func (c VAPIDConfig) Validate() error {
	if c.PublicKey == "" || c.PrivateKey == "" || c.Subject == "" {
		return errors.New("VAPID configuration required: set vapid.public_key, vapid.private_key and vapid.subject")
	}
	return nil
}

// WebPushSender delivers push messages through the Web Push protocol
type WebPushSender struct {
	config     VAPIDConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebPushSender creates a new web push sender
func NewWebPushSender(config VAPIDConfig, httpClient *http.Client, logger *slog.Logger) (*WebPushSender, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if httpClient == nil {
		httpClient = utils.NewDefaultHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebPushSender{
		config:     config,
		httpClient: httpClient,
		logger:     logger.With("component", "webpush"),
	}, nil
}

// Send encrypts message for the subscription and posts it to the push service.
// A 404 or 410 from the push service is reported as services.ErrEndpointGone.
func (s *WebPushSender) Send(ctx context.Context, record *entities.PushSubscriptionRecord, message *entities.PushMessage) error {
	if record == nil || message == nil {
		return errors.New("subscription and message are required")
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	keys := record.Keys()
	sub := &webpush.Subscription{
		Endpoint: record.Endpoint(),
		Keys: webpush.Keys{
			P256dh: keys.P256dh,
			Auth:   keys.Auth,
		},
	}

	options := &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.config.Subject,
		VAPIDPublicKey:  s.config.PublicKey,
		VAPIDPrivateKey: s.config.PrivateKey,
		TTL:             int(s.config.TTL.Seconds()),
		Urgency:         urgencyFor(message, s.config.Urgency),
	}
	if message.Type == entities.PushMessageBadge {
		// a newer badge update replaces an undelivered one
		options.Topic = "badge"
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, options)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer utils.SafeCloseResponse(resp)

	if resp.StatusCode < 400 {
		return nil
	}
	rejected := utils.HTTPError{StatusCode: resp.StatusCode, Message: "notification rejected", URL: record.Endpoint()}
	if utils.IsGone(rejected) {
		s.logger.Info("push endpoint gone", "status", resp.StatusCode, "subscription_id", record.ID())
		return fmt.Errorf("%w: %w", services.ErrEndpointGone, rejected)
	}
	return rejected
}

func urgencyFor(message *entities.PushMessage, configured string) webpush.Urgency {
	switch configured {
	case "very-low":
		return webpush.UrgencyVeryLow
	case "low":
		return webpush.UrgencyLow
	case "high":
		return webpush.UrgencyHigh
	case "normal":
		return webpush.UrgencyNormal
	}
	if message.Type == entities.PushMessageBadge {
		return webpush.UrgencyLow
	}
	return webpush.UrgencyHigh
}

// GenerateVAPIDKeys creates a new application server key pair
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}
