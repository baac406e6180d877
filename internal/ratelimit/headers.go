package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers maps a result to rate limit response headers. X-RateLimit-Reset is
// a Unix timestamp in seconds. Retry-After is 0 for admitted requests and
// never negative.
func Headers(res Result, now time.Time) map[string]string {
	return map[string]string{
		HeaderLimit:      strconv.Itoa(res.Limit),
		HeaderRemaining:  strconv.Itoa(max(0, res.Remaining)),
		HeaderReset:      strconv.FormatInt(res.ResetAt.Unix(), 10),
		HeaderRetryAfter: strconv.FormatInt(RetryAfterSeconds(res, now), 10),
	}
}

// RetryAfterSeconds returns ceil((ResetAt-now)/1s) for rejected results and
// 0 otherwise.
func RetryAfterSeconds(res Result, now time.Time) int64 {
	if res.Admitted {
		return 0
	}
	wait := res.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int64(math.Ceil(wait.Seconds()))
}

// WriteHeaders sets the headers produced by Headers on h.
func WriteHeaders(h http.Header, res Result, now time.Time) {
	for k, v := range Headers(res, now) {
		h.Set(k, v)
	}
}
