package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler returns a gin handler serving the aggregated system health
func (m *Monitor) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		overview := m.SystemHealth()

		statusCode := http.StatusOK
		switch overview.Status {
		case SystemCritical:
			statusCode = http.StatusServiceUnavailable
		case SystemDegraded:
			statusCode = http.StatusPartialContent
		}

		c.JSON(statusCode, overview)
	}
}

// LivenessHandler returns a simple liveness check handler
func (m *Monitor) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	}
}

// ReadinessHandler returns a readiness check handler. The process reports
// ready unless the system as a whole is critical.
func (m *Monitor) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		overview := m.SystemHealth()

		statusCode := http.StatusOK
		if overview.Status == SystemCritical {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    overview.Status,
			"timestamp": overview.Timestamp,
			"ready":     overview.Status != SystemCritical,
		})
	}
}
