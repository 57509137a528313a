// Package notifications delivers fraud alerts off-device: APNs pushes to the
// registered phones and an optional Discord webhook.
package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/lukasbauer/callguard/internal/alert"
	"github.com/lukasbauer/callguard/internal/calllog"
	"github.com/rs/zerolog"
)

// TokenLister returns the devices registered through the API.
type TokenLister interface {
	PushTokens(ctx context.Context) ([]calllog.PushToken, error)
}

// Notifier is the notify sink. Every channel is attempted; failures are
// joined into one error.
type Notifier struct {
	apns    *APNsClient
	static  []string
	lister  TokenLister
	discord *Discord
	log     zerolog.Logger
}

// NewNotifier combines the channels. static tokens come from configuration;
// lister may be nil.
func NewNotifier(apns *APNsClient, static []string, lister TokenLister, discord *Discord, logger zerolog.Logger) *Notifier {
	return &Notifier{
		apns:    apns,
		static:  static,
		lister:  lister,
		discord: discord,
		log:     logger.With().Str("component", "notifications").Logger(),
	}
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool {
	return n.apns != nil || n.discord.Enabled()
}

func (n *Notifier) Notify(ctx context.Context, a alert.Alert) error {
	if !n.Enabled() {
		n.log.Debug().Str("session_id", a.SessionID).Msg("no notification channel configured")
		return nil
	}

	var errs []error
	if n.apns != nil {
		tokens, err := n.deviceTokens(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		for _, t := range tokens {
			if err := n.apns.SendFraudAlert(ctx, t, a); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := n.discord.NotifyFraudAlert(ctx, a); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// deviceTokens merges configured and registered iOS tokens, without
// duplicates.
func (n *Notifier) deviceTokens(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool, len(n.static))
	var tokens []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	for _, t := range n.static {
		add(t)
	}
	if n.lister == nil {
		return tokens, nil
	}
	registered, err := n.lister.PushTokens(ctx)
	if err != nil {
		return tokens, fmt.Errorf("list push tokens: %w", err)
	}
	for _, pt := range registered {
		if pt.Platform == "ios" {
			add(pt.Token)
		}
	}
	return tokens, nil
}
