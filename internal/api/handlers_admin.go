package api

import (
	"net/http"
	"net/url"
	"time"

	"ratelimiter/internal/models"

	"github.com/gorilla/mux"
)

// GetBucket reports the current window of one bucket without counting a
// request against it. Slashes in the key may be sent escaped as %2F.
// GET /api/v1/admin/ratelimit/{key}
func (h *Handlers) GetBucket(w http.ResponseWriter, r *http.Request) {
	key, ok := h.bucketKey(w, r)
	if !ok {
		return
	}

	status, err := h.limiter.Status(r.Context(), key)
	if err != nil {
		h.logger.Error("Failed to read bucket", "key", key, "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Counter store unavailable")
		return
	}

	resp := models.BucketStatusResponse{
		Key:       status.Key,
		Active:    status.Active,
		Count:     status.Count,
		Limit:     status.Limit,
		Remaining: status.Remaining,
	}
	if status.Active {
		resetAt := status.ResetAt.UTC()
		resp.ResetAt = &resetAt
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// ResetBucket clears one bucket so its next request opens a fresh window.
// DELETE /api/v1/admin/ratelimit/{key}
func (h *Handlers) ResetBucket(w http.ResponseWriter, r *http.Request) {
	key, ok := h.bucketKey(w, r)
	if !ok {
		return
	}

	if err := h.limiter.Reset(r.Context(), key); err != nil {
		h.logger.Error("Failed to reset bucket", "key", key, "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Counter store unavailable")
		return
	}

	h.logger.Info("Bucket reset by operator", "key", key, "remote_addr", r.RemoteAddr)
	h.writeJSONResponse(w, http.StatusOK, models.BucketResetResponse{
		Key:     key,
		Message: "bucket reset",
	})
}

// SweepBuckets purges every expired counter immediately.
// POST /api/v1/admin/ratelimit/sweep
func (h *Handlers) SweepBuckets(w http.ResponseWriter, r *http.Request) {
	removed, err := h.limiter.Sweep(r.Context())
	if err != nil {
		h.logger.Error("Sweep failed", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Counter store unavailable")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.SweepResponse{
		Removed: removed,
		SweptAt: time.Now().UTC(),
	})
}

func (h *Handlers) bucketKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := url.PathUnescape(mux.Vars(r)["key"])
	if err != nil || key == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid bucket key")
		return "", false
	}
	return key, true
}
