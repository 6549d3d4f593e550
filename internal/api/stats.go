package api

import (
	"github.com/gin-gonic/gin"

	"github.com/halcyonlabs/sentinel/pkg/resilience"
)

// StatsHandler handles system-level status and statistics endpoints
type StatsHandler struct {
	coordinator *resilience.Coordinator
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(coordinator *resilience.Coordinator) *StatsHandler {
	return &StatsHandler{coordinator: coordinator}
}

// GetSystem returns the combined system overview: the monitor's view of
// probed services plus the request-path view of protected operations
func (h *StatsHandler) GetSystem(c *gin.Context) {
	SuccessResponse(c, h.coordinator.SystemHealth())
}

// GetStats returns the full coordinator statistics snapshot
func (h *StatsHandler) GetStats(c *gin.Context) {
	SuccessResponse(c, h.coordinator.Stats())
}
