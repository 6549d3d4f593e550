package api

import (
	"github.com/gin-gonic/gin"

	"github.com/halcyonlabs/sentinel/pkg/health"
	"github.com/halcyonlabs/sentinel/pkg/resilience"
)

// AlertHandler handles alert lifecycle endpoints
type AlertHandler struct {
	coordinator *resilience.Coordinator
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(coordinator *resilience.Coordinator) *AlertHandler {
	return &AlertHandler{coordinator: coordinator}
}

// ListAlerts returns alerts, active only by default. Pass ?all=true to
// include resolved ones.
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	var alerts []health.Alert
	if c.Query("all") == "true" {
		alerts = h.coordinator.Monitor().AllAlerts()
	} else {
		alerts = h.coordinator.Monitor().ActiveAlerts()
	}
	ListResponse(c, alerts, len(alerts))
}

// GetAlert returns a single alert by ID
func (h *AlertHandler) GetAlert(c *gin.Context) {
	alert, err := h.coordinator.Monitor().Alert(c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, alert)
}

// AcknowledgeAlert marks an alert as seen by an operator
func (h *AlertHandler) AcknowledgeAlert(c *gin.Context) {
	alert, err := h.coordinator.Monitor().AcknowledgeAlert(c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, alert)
}

// ResolveAlert closes an alert. Alerts never resolve on their own, even
// when the service recovers.
func (h *AlertHandler) ResolveAlert(c *gin.Context) {
	alert, err := h.coordinator.Monitor().ResolveAlert(c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, alert)
}
