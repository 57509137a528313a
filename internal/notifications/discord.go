package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lukasbauer/callguard/internal/alert"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d != nil && d.webhookURL != ""
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

func (d *Discord) send(ctx context.Context, msg discordMessage) error {
	if !d.Enabled() {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("discord: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyFraudAlert posts the alert to the webhook channel.
func (d *Discord) NotifyFraudAlert(ctx context.Context, a alert.Alert) error {
	caller := a.PhoneNumber
	if a.CallerName != "" {
		caller = fmt.Sprintf("%s (%s)", a.CallerName, a.PhoneNumber)
	}
	fields := []embedField{
		{Name: "Caller", Value: fmt.Sprintf("`%s`", caller), Inline: true},
		{Name: "Confidence", Value: fmt.Sprintf("%.0f%%", a.Confidence*100), Inline: true},
		{Name: "Source", Value: a.Source, Inline: true},
	}
	if a.HandoverNumber != "" {
		fields = append(fields, embedField{Name: alert.HandoverAction, Value: fmt.Sprintf("`%s`", a.HandoverNumber)})
	}

	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title:       alert.NotificationTitle,
			Description: a.Reason,
			Color:       0xFF0000, // Red
			Fields:      fields,
			Timestamp:   a.RaisedAt.UTC().Format(time.RFC3339),
		}},
	}
	return d.send(ctx, msg)
}
