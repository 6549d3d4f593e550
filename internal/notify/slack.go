package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonlabs/sentinel/pkg/health"
)

// SlackHandler delivers raised alerts to a Slack incoming webhook
type SlackHandler struct {
	webhookURL string
	logger     *zap.Logger
	httpClient *http.Client
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackHandler creates a Slack alert handler
func NewSlackHandler(webhookURL string, timeout time.Duration, logger *zap.Logger) *SlackHandler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SlackHandler{
		webhookURL: webhookURL,
		logger:     logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HandleAlert posts the alert to Slack
func (h *SlackHandler) HandleAlert(alert health.Alert) error {
	if h.webhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	payload, err := json.Marshal(h.buildSlackMessage(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", h.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	h.logger.Info("Sent Slack alert",
		zap.String("alert_id", alert.ID),
		zap.String("service", alert.Service),
		zap.String("webhook_url", maskWebhookURL(h.webhookURL)))

	return nil
}

// buildSlackMessage converts an alert to Slack format
func (h *SlackHandler) buildSlackMessage(alert health.Alert) SlackMessage {
	message := SlackMessage{
		Text: fmt.Sprintf("Health alert for %s", alert.Service),
	}

	switch alert.Severity {
	case health.SeverityCritical, health.SeverityError:
		message.IconEmoji = ":rotating_light:"
	case health.SeverityWarning:
		message.IconEmoji = ":warning:"
	default:
		message.IconEmoji = ":information_source:"
	}

	attachment := SlackAttachment{
		Text:      alert.Message,
		Footer:    "Sentinel Health Monitor",
		Timestamp: alert.CreatedAt.Unix(),
	}

	switch alert.Severity {
	case health.SeverityCritical, health.SeverityError:
		attachment.Color = "danger"
	case health.SeverityWarning:
		attachment.Color = "warning"
	default:
		attachment.Color = "good"
	}

	attachment.Fields = []SlackField{
		{Title: "Service", Value: alert.Service, Short: true},
		{Title: "Severity", Value: string(alert.Severity), Short: true},
		{Title: "Alert ID", Value: alert.ID, Short: false},
	}

	message.Attachments = []SlackAttachment{attachment}
	return message
}
