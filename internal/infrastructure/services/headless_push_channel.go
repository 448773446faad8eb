package services

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hkdf"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

// HeadlessPushConfig configures the push channel of a device agent
type HeadlessPushConfig struct {
	// Permission is the answer of the simulated prompt: granted, denied, default (dismissed)
	// or prompt (starts undecided, granted on request)
	Permission string `mapstructure:"permission"`
	// EndpointURL is the externally reachable base URL pushes are delivered to
	EndpointURL string `mapstructure:"endpoint_url"`
}

type headlessChannel struct {
	id        string
	info      entities.PushChannelInfo
	private   *ecdh.PrivateKey
	auth      []byte
	serverKey string
}

// HeadlessPushChannel is the push channel of a device without a browser push service.
// The agent receives Web Push requests itself and decrypts them with the channel keys.
type HeadlessPushChannel struct {
	config HeadlessPushConfig
	logger *slog.Logger

	mu         sync.Mutex
	permission entities.Permission
	answer     entities.Permission
	current    *headlessChannel
}

// NewHeadlessPushChannel creates a new headless push channel
func NewHeadlessPushChannel(config HeadlessPushConfig, logger *slog.Logger) *HeadlessPushChannel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &HeadlessPushChannel{
		config: config,
		logger: logger.With("component", "headless_push"),
	}
	switch config.Permission {
	case string(entities.PermissionGranted):
		c.permission, c.answer = entities.PermissionGranted, entities.PermissionGranted
	case string(entities.PermissionDenied):
		c.permission, c.answer = entities.PermissionDenied, entities.PermissionDenied
	case "prompt":
		c.permission, c.answer = entities.PermissionDefault, entities.PermissionGranted
	default:
		c.permission, c.answer = entities.PermissionDefault, entities.PermissionDefault
	}
	return c
}

// Permission returns the current permission
func (c *HeadlessPushChannel) Permission() entities.Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permission
}

// RequestPermission resolves an undecided permission with the configured answer
func (c *HeadlessPushChannel) RequestPermission(ctx context.Context) (entities.Permission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.permission == entities.PermissionDefault {
		c.permission = c.answer
	}
	return c.permission, nil
}

// Open returns the channel bound to applicationServerKey, creating fresh keys if needed
func (c *HeadlessPushChannel) Open(ctx context.Context, applicationServerKey string) (*entities.PushChannelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.permission != entities.PermissionGranted {
		return nil, entities.ErrPermissionDenied
	}
	if applicationServerKey == "" {
		return nil, errors.New("application server key is required")
	}
	if c.current != nil && c.current.serverKey == applicationServerKey {
		info := c.current.info
		return &info, nil
	}
	if c.config.EndpointURL == "" {
		return nil, fmt.Errorf("%w: push endpoint URL is not configured", entities.ErrUnsupported)
	}

	private, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate channel key: %w", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		return nil, fmt.Errorf("failed to generate auth secret: %w", err)
	}

	id := uuid.NewString()
	c.current = &headlessChannel{
		id: id,
		info: entities.PushChannelInfo{
			Endpoint: strings.TrimRight(c.config.EndpointURL, "/") + "/" + id,
			Keys: entities.EncryptionKeys{
				P256dh: base64.RawURLEncoding.EncodeToString(private.PublicKey().Bytes()),
				Auth:   base64.RawURLEncoding.EncodeToString(auth),
			},
		},
		private:   private,
		auth:      auth,
		serverKey: applicationServerKey,
	}
	c.logger.Info("opened push channel", "channel_id", id)

	info := c.current.info
	return &info, nil
}

// Current returns the open channel, or nil
func (c *HeadlessPushChannel) Current(ctx context.Context) (*entities.PushChannelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, nil
	}
	info := c.current.info
	return &info, nil
}

// Close drops the channel; later pushes to its endpoint are rejected as gone
func (c *HeadlessPushChannel) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	return nil
}

// Rotate replaces the channel keys and endpoint, as a push service does when it expires a subscription
func (c *HeadlessPushChannel) Rotate(ctx context.Context) (*entities.PushChannelInfo, error) {
	c.mu.Lock()
	serverKey := ""
	if c.current != nil {
		serverKey = c.current.serverKey
	}
	c.current = nil
	c.mu.Unlock()

	if serverKey == "" {
		return nil, errors.New("no open push channel")
	}
	return c.Open(ctx, serverKey)
}

// Receive verifies and decrypts one Web Push request addressed to channelID
func (c *HeadlessPushChannel) Receive(ctx context.Context, channelID string, body []byte, authorization string) (*entities.PushMessage, error) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current == nil || current.id != channelID {
		return nil, services.ErrUnknownChannel
	}
	if err := verifyVAPID(authorization, current.serverKey, c.audience()); err != nil {
		return nil, err
	}

	plaintext, err := decryptPushPayload(body, current.private, current.auth)
	if err != nil {
		return nil, err
	}

	var message entities.PushMessage
	if err := json.Unmarshal(plaintext, &message); err != nil {
		return nil, fmt.Errorf("failed to decode push message: %w", err)
	}
	return &message, nil
}

func (c *HeadlessPushChannel) audience() string {
	u, err := url.Parse(c.config.EndpointURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// verifyVAPID checks the "vapid t=<jwt>, k=<key>" header against the expected server key
func verifyVAPID(authorization, serverKey, audience string) error {
	token, key, ok := parseVAPIDAuthorization(authorization)
	if !ok {
		return fmt.Errorf("%w: missing vapid credentials", services.ErrPushUnauthorized)
	}
	if strings.TrimRight(key, "=") != strings.TrimRight(serverKey, "=") {
		return fmt.Errorf("%w: unexpected application server key", services.ErrPushUnauthorized)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(key, "="))
	if err != nil {
		return fmt.Errorf("%w: malformed application server key", services.ErrPushUnauthorized)
	}
	x, y := elliptic.Unmarshal(elliptic.P256(), raw)
	if x == nil {
		return fmt.Errorf("%w: malformed application server key", services.ErrPushUnauthorized)
	}
	public := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if _, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return public, nil }, opts...); err != nil {
		return fmt.Errorf("%w: %w", services.ErrPushUnauthorized, err)
	}
	return nil
}

func parseVAPIDAuthorization(header string) (token, key string, ok bool) {
	const prefix = "vapid "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	for _, part := range strings.Split(header[len(prefix):], ",") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch name {
		case "t":
			token = value
		case "k":
			key = value
		}
	}
	return token, key, token != "" && key != ""
}

// decryptPushPayload opens a single-record aes128gcm body (RFC 8188 framing, RFC 8291 keys)
func decryptPushPayload(body []byte, private *ecdh.PrivateKey, auth []byte) ([]byte, error) {
	const headerLen = 16 + 4 + 1
	if len(body) < headerLen {
		return nil, errors.New("push body too short")
	}
	salt := body[:16]
	recordSize := binary.BigEndian.Uint32(body[16:20])
	idLen := int(body[20])
	if len(body) < headerLen+idLen {
		return nil, errors.New("push body too short")
	}
	senderKey := body[headerLen : headerLen+idLen]
	ciphertext := body[headerLen+idLen:]
	if uint32(len(ciphertext)) > recordSize {
		return nil, errors.New("multi-record push payloads are not supported")
	}

	sender, err := ecdh.P256().NewPublicKey(senderKey)
	if err != nil {
		return nil, fmt.Errorf("invalid sender key: %w", err)
	}
	secret, err := private.ECDH(sender)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	receiverKey := private.PublicKey().Bytes()
	plaintext, err := openPushRecord(secret, auth, receiverKey, senderKey, salt, ciphertext)
	if err != nil && secret[0] == 0 {
		// some senders serialize the shared secret without its leading zero bytes
		plaintext, err = openPushRecord(bytes.TrimLeft(secret, "\x00"), auth, receiverKey, senderKey, salt, ciphertext)
	}
	if err != nil {
		return nil, err
	}

	end := len(plaintext) - 1
	for end >= 0 && plaintext[end] == 0 {
		end--
	}
	if end < 0 || plaintext[end] != 0x02 {
		return nil, errors.New("push payload is missing the final record delimiter")
	}
	return plaintext[:end], nil
}

func openPushRecord(secret, auth, receiverKey, senderKey, salt, ciphertext []byte) ([]byte, error) {
	info := make([]byte, 0, 14+len(receiverKey)+len(senderKey))
	info = append(info, "WebPush: info\x00"...)
	info = append(info, receiverKey...)
	info = append(info, senderKey...)

	ikm, err := hkdf.Key(sha256.New, secret, auth, string(info), 32)
	if err != nil {
		return nil, err
	}
	cek, err := hkdf.Key(sha256.New, ikm, salt, "Content-Encoding: aes128gcm\x00", 16)
	if err != nil {
		return nil, err
	}
	nonce, err := hkdf.Key(sha256.New, ikm, salt, "Content-Encoding: nonce\x00", 12)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt push payload: %w", err)
	}
	return plaintext, nil
}
