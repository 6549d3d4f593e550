package api

import (
	"github.com/gin-gonic/gin"

	"github.com/halcyonlabs/sentinel/pkg/resilience"
)

// BreakerHandler handles circuit breaker inspection and control endpoints
type BreakerHandler struct {
	coordinator *resilience.Coordinator
}

// NewBreakerHandler creates a new breaker handler
func NewBreakerHandler(coordinator *resilience.Coordinator) *BreakerHandler {
	return &BreakerHandler{coordinator: coordinator}
}

// ListBreakers returns stats for every breaker key seen so far
func (h *BreakerHandler) ListBreakers(c *gin.Context) {
	stats := h.coordinator.Stats().CircuitBreakers
	ListResponse(c, stats, len(stats))
}

// GetBreaker returns stats for one breaker key. Breakers are created
// lazily, so an unseen key reports a closed breaker with zero counters.
func (h *BreakerHandler) GetBreaker(c *gin.Context) {
	SuccessResponse(c, h.coordinator.BreakerStats(c.Param("key")))
}

// ResetBreaker forces a breaker back to closed with cleared counters
func (h *BreakerHandler) ResetBreaker(c *gin.Context) {
	key := c.Param("key")
	h.coordinator.ResetBreaker(key)
	SuccessResponse(c, h.coordinator.BreakerStats(key))
}
