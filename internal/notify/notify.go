// Package notify delivers raised health alerts to external channels. The
// monitor fans out to every registered handler; delivery failures are
// logged by the monitor and never block status bookkeeping.
package notify

import (
	"go.uber.org/zap"

	"github.com/halcyonlabs/sentinel/pkg/config"
	"github.com/halcyonlabs/sentinel/pkg/health"
)

// Handlers builds the alert handlers enabled by cfg
func Handlers(cfg config.NotifyConfig, logger *zap.Logger) []health.AlertHandler {
	if !cfg.Enabled {
		return nil
	}

	var handlers []health.AlertHandler
	if cfg.WebhookURL != "" {
		handlers = append(handlers, NewWebhookHandler(cfg.WebhookURL, cfg.Timeout, logger))
	}
	if cfg.SlackWebhookURL != "" {
		handlers = append(handlers, NewSlackHandler(cfg.SlackWebhookURL, cfg.Timeout, logger))
	}
	return handlers
}
