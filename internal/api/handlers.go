package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"ratelimiter/internal/models"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/version"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// healthProbeTimeout bounds each dependency probe in the health check.
const healthProbeTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains HTTP handlers for the rate limiter API
type Handlers struct {
	limiter    *ratelimit.Limiter
	store      Pinger
	trustProxy bool
	version    version.Info
	startedAt  time.Time
	logger     *slog.Logger
}

// HandlerOption configures optional dependencies of Handlers.
type HandlerOption func(*Handlers)

// WithStore sets the counter store probed by the health check.
func WithStore(store Pinger) HandlerOption {
	return func(h *Handlers) {
		h.store = store
	}
}

// WithTrustProxyHeaders makes client addresses reported by the demo
// endpoints honor X-Forwarded-For and X-Real-IP.
func WithTrustProxyHeaders(trust bool) HandlerOption {
	return func(h *Handlers) {
		h.trustProxy = trust
	}
}

func WithVersion(info version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = info
	}
}

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(limiter *ratelimit.Limiter, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		limiter:   limiter,
		version:   version.GetInfo(),
		startedAt: time.Now(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.startedAt).Round(time.Second).String()

	statusCode := http.StatusOK

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		err := h.store.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.Warn("Counter store health probe failed", "error", err)
			response.AddComponent("store", models.StatusUnhealthy, err.Error())
			response.Status = models.StatusDegraded
			// Every limited request is denied while the store is down.
			if h.limiter != nil && h.limiter.FailurePolicy() == ratelimit.FailClosed {
				response.Status = models.StatusUnhealthy
				statusCode = http.StatusServiceUnavailable
			}
		} else {
			response.AddComponent("store", models.StatusHealthy, "Counter store is reachable")
		}
	}

	if h.limiter != nil {
		response.AddComponent("limiter", models.StatusHealthy, "Rate limiter is operational")
		response.AddComponentDetail("limiter", "limit", h.limiter.Limit())
		response.AddComponentDetail("limiter", "window", h.limiter.Window().String())
		response.AddComponentDetail("limiter", "failure_policy", string(h.limiter.FailurePolicy()))
	}

	h.addHostComponent(r.Context(), response)

	response.AddMetric("instance_id", h.version.InstanceID)
	response.AddMetric("hostname", h.version.Hostname)

	h.writeJSONResponse(w, statusCode, response)
}

// addHostComponent reports memory usage of the machine running this
// instance. Probe failures only mark the component unknown.
func (h *Handlers) addHostComponent(ctx context.Context, response *models.HealthCheckResponse) {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		response.AddComponent("host", models.StatusUnknown, "memory info unavailable")
		return
	}
	response.AddComponent("host", models.StatusHealthy, "Host resources available")
	response.AddComponentDetail("host", "mem_total", vm.Total)
	response.AddComponentDetail("host", "mem_used", vm.Used)
	response.AddComponentDetail("host", "mem_used_pct", vm.UsedPercent)

	if info, err := host.InfoWithContext(ctx); err == nil {
		response.AddComponentDetail("host", "platform", info.Platform)
		response.AddComponentDetail("host", "uptime_sec", info.Uptime)
	}
}

// Ping answers a rate-limited request with the caller's client address.
// GET /api/v1/ping
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	desc := ratelimit.FromHTTPRequest(r, h.trustProxy)
	h.writeJSONResponse(w, http.StatusOK, models.MessageResponse{
		Message:   "pong",
		Client:    desc.ClientAddress,
		Timestamp: time.Now(),
	})
}

// LoginRequest is the body accepted by the login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login stands in for a credential check so that the rate-limited login
// route can be exercised. Credentials are never verified or stored.
// POST /api/v1/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.Username == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "username is required")
		return
	}

	desc := ratelimit.FromHTTPRequest(r, h.trustProxy)
	h.writeJSONResponse(w, http.StatusOK, models.MessageResponse{
		Message:   "login accepted for " + req.Username,
		Client:    desc.ClientAddress,
		Timestamp: time.Now(),
	})
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data, h.logger)
}

// writeErrorResponse writes an error response tagged with a fresh request ID.
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = uuid.NewString()
	h.writeJSONResponse(w, statusCode, errorResp)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Headers are already sent; an encode failure can only be logged.
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Error encoding JSON response", "error", err)
	}
}
