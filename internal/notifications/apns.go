package notifications

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/lukasbauer/callguard/internal/alert"
	"github.com/rs/zerolog"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNsConfig holds configuration for Apple Push Notification service
type APNsConfig struct {
	KeyPath    string // Path to .p8 key file
	KeyID      string // Key ID from Apple Developer Portal
	TeamID     string // Team ID from Apple Developer Portal
	BundleID   string // App bundle ID
	Production bool   // Use production environment
}

// Enabled reports whether every credential is present.
func (c APNsConfig) Enabled() bool {
	return c.KeyPath != "" && c.KeyID != "" && c.TeamID != "" && c.BundleID != ""
}

// pusher is the part of apns2.Client used here.
type pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNsClient sends push notifications via Apple Push Notification service
type APNsClient struct {
	client   pusher
	bundleID string
	log      zerolog.Logger
}

// NewAPNsClient creates a new APNs client. It returns nil, nil when the
// configuration is incomplete.
func NewAPNsClient(cfg APNsConfig, logger zerolog.Logger) (*APNsClient, error) {
	log := logger.With().Str("component", "apns").Logger()
	if !cfg.Enabled() {
		log.Info().Msg("missing configuration, push notifications disabled")
		return nil, nil
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key file: %w", err)
	}

	authKey, err := parseAuthKey(keyBytes)
	if err != nil {
		return nil, err
	}

	authToken := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(authToken)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	log.Info().Bool("production", cfg.Production).Str("bundle", cfg.BundleID).Msg("client initialized")

	return &APNsClient{
		client:   client,
		bundleID: cfg.BundleID,
		log:      log,
	}, nil
}

func parseAuthKey(keyBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode APNs key PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}

	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("APNs key is not an ECDSA private key")
	}
	return ecdsaKey, nil
}

// fraudPayload carries the handover action so the app can offer it from the
// lock screen.
func fraudPayload(a alert.Alert) *payload.Payload {
	return payload.NewPayload().
		AlertTitle(alert.NotificationTitle).
		AlertBody(alert.NotificationBody(a)).
		Sound("default").
		Category(alert.HandoverCategory).
		Custom("session_id", a.SessionID).
		Custom("phone_number", a.PhoneNumber).
		Custom("confidence", a.Confidence).
		Custom("handover_number", a.HandoverNumber).
		Custom("handover_action", alert.HandoverAction)
}

// SendFraudAlert pushes a high-priority fraud alert to one device.
func (c *APNsClient) SendFraudAlert(ctx context.Context, deviceToken string, a alert.Alert) error {
	if c == nil || c.client == nil {
		return nil
	}

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		Payload:     fraudPayload(a),
		Priority:    apns2.PriorityHigh,
		PushType:    apns2.PushTypeAlert,
		CollapseID:  a.SessionID,
		Expiration:  time.Now().Add(10 * time.Minute),
	}

	res, err := c.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("apns push: %w", err)
	}

	if !res.Sent() {
		c.log.Warn().Int("status", res.StatusCode).Str("reason", res.Reason).Str("token", tokenPrefix(deviceToken)).Msg("fraud alert rejected")
		return fmt.Errorf("APNs rejected notification: %s", res.Reason)
	}

	c.log.Info().Str("token", tokenPrefix(deviceToken)).Str("session_id", a.SessionID).Msg("fraud alert sent")
	return nil
}

func tokenPrefix(t string) string {
	if len(t) > 16 {
		return t[:16] + "..."
	}
	return t
}
