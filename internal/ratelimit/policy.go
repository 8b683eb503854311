package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"ratelimiter/internal/models"

	"github.com/google/uuid"
)

// Rate limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Outcome is what the HTTP boundary should do with a request. A nil Body with
// StatusCode 200 means pass the request through with Headers attached.
type Outcome struct {
	StatusCode int
	Headers    http.Header
	Body       *models.ErrorResponse
}

// Allowed reports whether the request should continue to the handler.
func (o Outcome) Allowed() bool {
	return o.StatusCode < http.StatusBadRequest
}

// ResponsePolicy maps decisions to HTTP outcomes.
type ResponsePolicy struct {
	// ExposeHeaders attaches X-RateLimit-* headers. Retry-After is always set
	// on denials.
	ExposeHeaders bool
}

// ToOutcome translates d. Denials become 429 with a Retry-After in whole
// seconds rounded up and a machine-readable error code. Degraded decisions
// carry no X-RateLimit-* headers since no window was consulted.
func (p ResponsePolicy) ToOutcome(d Decision) Outcome {
	headers := make(http.Header)

	if p.ExposeHeaders && !d.Degraded {
		headers.Set(HeaderLimit, strconv.Itoa(d.Limit))
		headers.Set(HeaderRemaining, strconv.Itoa(max(d.Remaining, 0)))
		headers.Set(HeaderReset, strconv.FormatInt(ceilUnix(d.ResetAt), 10))
	}

	if d.Allowed {
		return Outcome{StatusCode: http.StatusOK, Headers: headers}
	}

	retryAfter := RetryAfterSeconds(d.RetryAfter)
	headers.Set(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))

	code := models.ErrorCodeRateLimitExceeded
	message := "Rate limit exceeded"
	if d.Degraded {
		code = models.ErrorCodeRateLimiterUnavailable
		message = "Rate limiter unavailable"
	}

	body := models.NewErrorResponse(message, code)
	body.RetryAfter = retryAfter
	body.RequestID = uuid.NewString()
	body.Details = map[string]string{"limit": strconv.Itoa(d.Limit)}

	return Outcome{
		StatusCode: http.StatusTooManyRequests,
		Headers:    headers,
		Body:       body,
	}
}

// RetryAfterSeconds rounds d up to whole seconds, never below zero.
func RetryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

func ceilUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	secs := t.Unix()
	if t.Nanosecond() > 0 {
		secs++
	}
	return secs
}
