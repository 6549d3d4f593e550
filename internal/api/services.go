package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/halcyonlabs/sentinel/pkg/errors"
	"github.com/halcyonlabs/sentinel/pkg/health"
	"github.com/halcyonlabs/sentinel/pkg/probes"
	"github.com/halcyonlabs/sentinel/pkg/resilience"
	"github.com/halcyonlabs/sentinel/pkg/tracing"
)

// ServiceHandler handles monitored-service endpoints
type ServiceHandler struct {
	coordinator *resilience.Coordinator
	tracing     *tracing.TracingService
}

// NewServiceHandler creates a new service handler
func NewServiceHandler(coordinator *resilience.Coordinator, ts *tracing.TracingService) *ServiceHandler {
	return &ServiceHandler{
		coordinator: coordinator,
		tracing:     ts,
	}
}

// RegisterServiceRequest describes a service to monitor. Exactly one probe
// target may be given; a service with neither probes vacuously healthy.
type RegisterServiceRequest struct {
	Name             string `json:"name" binding:"required"`
	ProbeURL         string `json:"probe_url" binding:"omitempty,url"`
	ProbeAddress     string `json:"probe_address"`
	Enabled          *bool  `json:"enabled"`
	IntervalSeconds  int    `json:"interval_seconds" binding:"omitempty,min=1"`
	TimeoutSeconds   int    `json:"timeout_seconds" binding:"omitempty,min=1"`
	Retries          int    `json:"retries" binding:"omitempty,min=0,max=10"`
	FailureThreshold int    `json:"failure_threshold" binding:"omitempty,min=1"`
	// GraceSeconds is a pointer so an explicit 0 can skip the startup delay
	GraceSeconds *int `json:"grace_seconds" binding:"omitempty,min=0"`
}

func (r *RegisterServiceRequest) serviceConfig(ts *tracing.TracingService) (health.ServiceConfig, error) {
	cfg := health.DefaultServiceConfig()
	if r.Enabled != nil {
		cfg.Enabled = *r.Enabled
	}
	if r.IntervalSeconds > 0 {
		cfg.Interval = time.Duration(r.IntervalSeconds) * time.Second
	}
	if r.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(r.TimeoutSeconds) * time.Second
	}
	if r.Retries > 0 {
		cfg.Retries = r.Retries
	}
	if r.FailureThreshold > 0 {
		cfg.FailureThreshold = r.FailureThreshold
	}
	if r.GraceSeconds != nil {
		cfg.GracePeriod = time.Duration(*r.GraceSeconds) * time.Second
	}

	switch {
	case r.ProbeURL != "" && r.ProbeAddress != "":
		return cfg, errors.NewValidationError("probe_url and probe_address are mutually exclusive")
	case r.ProbeURL != "":
		client := &http.Client{Timeout: cfg.Timeout}
		if ts != nil {
			client = ts.InstrumentHTTPClient(client)
		}
		cfg.Checks = []health.CheckFunc{probes.NewHTTPProbeWithClient(r.ProbeURL, client).Check}
	case r.ProbeAddress != "":
		cfg.Checks = []health.CheckFunc{probes.NewTCPProbe(r.ProbeAddress, cfg.Timeout).Check}
	}
	return cfg, nil
}

// ListServices returns the merged health view of every known service
func (h *ServiceHandler) ListServices(c *gin.Context) {
	views := h.coordinator.Services()
	ListResponse(c, views, len(views))
}

// GetService returns the merged health view of one service
func (h *ServiceHandler) GetService(c *gin.Context) {
	view, err := h.coordinator.ServiceHealth(c.Param("name"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, view)
}

// RegisterService registers or replaces a monitored service
func (h *ServiceHandler) RegisterService(c *gin.Context) {
	var req RegisterServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	cfg, err := req.serviceConfig(h.tracing)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	if err := h.coordinator.RegisterService(req.Name, cfg); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	view, err := h.coordinator.ServiceHealth(req.Name)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	CreatedResponse(c, view)
}

// DeregisterService removes a service from monitoring
func (h *ServiceHandler) DeregisterService(c *gin.Context) {
	name := c.Param("name")
	if err := h.coordinator.Monitor().DeregisterService(name); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"service": name, "deregistered": true})
}

// CheckService runs an immediate out-of-schedule probe
func (h *ServiceHandler) CheckService(c *gin.Context) {
	result, err := h.coordinator.Monitor().CheckService(c.Request.Context(), c.Param("name"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, result)
}

// CheckAllServices probes every registered service concurrently
func (h *ServiceHandler) CheckAllServices(c *gin.Context) {
	results := h.coordinator.Monitor().CheckAllServices(c.Request.Context())
	ListResponse(c, results, len(results))
}
