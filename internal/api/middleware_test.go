package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ratelimiter/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp models.ErrorResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, models.ErrorCodeInternalError, resp.Code)
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: rr, status: http.StatusOK}

	rec.WriteHeader(http.StatusTooManyRequests)

	assert.Equal(t, http.StatusTooManyRequests, rec.status)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}
