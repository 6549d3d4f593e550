package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/halcyonlabs/sentinel/pkg/errors"
	"github.com/halcyonlabs/sentinel/pkg/logging"
)

// AlertSeverity indicates how urgent an alert is
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// Alert lifecycle event names passed to Hooks.OnAlert
const (
	AlertRaised       = "raised"
	AlertAcknowledged = "acknowledged"
	AlertResolved     = "resolved"
)

// Alert is raised when a service crosses its failure threshold. Alerts are
// never resolved automatically; a recovered service keeps its alert open
// until an operator resolves it.
type Alert struct {
	ID             string        `json:"id"`
	Service        string        `json:"service"`
	Severity       AlertSeverity `json:"severity"`
	Message        string        `json:"message"`
	CreatedAt      time.Time     `json:"created_at"`
	Acknowledged   bool          `json:"acknowledged"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	Resolved       bool          `json:"resolved"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// AlertHandler delivers raised alerts to an external channel
type AlertHandler interface {
	HandleAlert(alert Alert) error
}

// LoggingAlertHandler writes alerts to the structured log
type LoggingAlertHandler struct {
	logger *logging.Logger
}

func NewLoggingAlertHandler(logger *logging.Logger) *LoggingAlertHandler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LoggingAlertHandler{logger: logger}
}

func (h *LoggingAlertHandler) HandleAlert(alert Alert) error {
	h.logger.Warn("Health alert raised",
		"alert_id", alert.ID,
		"service", alert.Service,
		"severity", string(alert.Severity),
		"message", alert.Message,
	)
	return nil
}

// alertLog is the in-memory alert store. It keeps resolved alerts so the
// API can serve recent history.
type alertLog struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
}

func newAlertLog() *alertLog {
	return &alertLog{alerts: make(map[string]*Alert)}
}

func (l *alertLog) raise(service string, severity AlertSeverity, message string) Alert {
	alert := Alert{
		ID:        uuid.New().String(),
		Service:   service,
		Severity:  severity,
		Message:   message,
		CreatedAt: time.Now(),
	}
	l.mu.Lock()
	l.alerts[alert.ID] = &alert
	l.mu.Unlock()
	return alert
}

func (l *alertLog) acknowledge(id string) (Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	alert, ok := l.alerts[id]
	if !ok {
		return Alert{}, errors.NewAlertNotFoundError(id)
	}
	if !alert.Acknowledged {
		now := time.Now()
		alert.Acknowledged = true
		alert.AcknowledgedAt = &now
	}
	return *alert, nil
}

func (l *alertLog) resolve(id string) (Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	alert, ok := l.alerts[id]
	if !ok {
		return Alert{}, errors.NewAlertNotFoundError(id)
	}
	if !alert.Resolved {
		now := time.Now()
		alert.Resolved = true
		alert.ResolvedAt = &now
	}
	return *alert, nil
}

func (l *alertLog) list(includeResolved bool) []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Alert, 0, len(l.alerts))
	for _, alert := range l.alerts {
		if alert.Resolved && !includeResolved {
			continue
		}
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (l *alertLog) get(id string) (Alert, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	alert, ok := l.alerts[id]
	if !ok {
		return Alert{}, errors.NewAlertNotFoundError(id)
	}
	return *alert, nil
}

// AcknowledgeAlert marks an alert as seen by an operator. Acknowledging an
// already acknowledged alert is a no-op; unknown IDs return an error.
func (m *Monitor) AcknowledgeAlert(id string) (Alert, error) {
	alert, err := m.alerts.acknowledge(id)
	if err != nil {
		return Alert{}, err
	}
	m.logger.LogAlertEvent(context.Background(), "alert_acknowledged", alert.ID, alert.Service, string(alert.Severity), nil)
	if m.hooks.OnAlert != nil {
		m.hooks.OnAlert(AlertAcknowledged, alert)
	}
	return alert, nil
}

// ResolveAlert closes an alert. Resolving twice is a no-op; unknown IDs
// return an error.
func (m *Monitor) ResolveAlert(id string) (Alert, error) {
	alert, err := m.alerts.resolve(id)
	if err != nil {
		return Alert{}, err
	}
	m.logger.LogAlertEvent(context.Background(), "alert_resolved", alert.ID, alert.Service, string(alert.Severity), nil)
	if m.hooks.OnAlert != nil {
		m.hooks.OnAlert(AlertResolved, alert)
	}
	return alert, nil
}

// Alert returns one alert by ID
func (m *Monitor) Alert(id string) (Alert, error) {
	return m.alerts.get(id)
}

// ActiveAlerts returns all unresolved alerts, oldest first
func (m *Monitor) ActiveAlerts() []Alert {
	return m.alerts.list(false)
}

// AllAlerts returns every alert including resolved ones, oldest first
func (m *Monitor) AllAlerts() []Alert {
	return m.alerts.list(true)
}

// dispatchAlert fans a raised alert out to the registered handlers
func (m *Monitor) dispatchAlert(alert Alert) {
	m.mu.RLock()
	handlers := make([]AlertHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	m.logger.LogAlertEvent(context.Background(), "alert_raised", alert.ID, alert.Service, string(alert.Severity), logrus.Fields{
		"message": alert.Message,
	})
	for _, handler := range handlers {
		if err := handler.HandleAlert(alert); err != nil {
			m.logger.Error("Alert handler failed",
				"alert_id", alert.ID,
				"error", err.Error(),
			)
		}
	}
}
