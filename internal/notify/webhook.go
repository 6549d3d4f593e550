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

const defaultTimeout = 30 * time.Second

// WebhookHandler delivers raised alerts to a generic HTTP endpoint as JSON
type WebhookHandler struct {
	url        string
	logger     *zap.Logger
	httpClient *http.Client
}

// webhookPayload is the body posted to the webhook endpoint
type webhookPayload struct {
	Event  string       `json:"event"`
	Alert  health.Alert `json:"alert"`
	SentAt time.Time    `json:"sent_at"`
}

// NewWebhookHandler creates a webhook alert handler
func NewWebhookHandler(url string, timeout time.Duration, logger *zap.Logger) *WebhookHandler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WebhookHandler{
		url:    url,
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HandleAlert posts the alert to the configured endpoint
func (h *WebhookHandler) HandleAlert(alert health.Alert) error {
	if h.url == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	payload, err := json.Marshal(webhookPayload{
		Event:  "alert_raised",
		Alert:  alert,
		SentAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", h.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sentinel-Event", "alert_raised")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	h.logger.Info("Delivered alert webhook",
		zap.String("alert_id", alert.ID),
		zap.String("service", alert.Service),
		zap.String("severity", string(alert.Severity)),
		zap.String("url", maskWebhookURL(h.url)))

	return nil
}

// maskWebhookURL masks the webhook URL for logging
func maskWebhookURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:20] + "***"
}
