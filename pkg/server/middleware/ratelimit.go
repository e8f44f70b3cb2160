package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/osaurus-ai/osaurus/pkg/stream"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

// RateLimit applies a shared token bucket to the routes it wraps. A nil
// limiter disables it.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				_ = stream.WriteJSON(w, http.StatusTooManyRequests, types.ErrorResponse{
					Error: &types.APIError{
						Message: "rate limit exceeded, retry later",
						Type:    "rate_limit_error",
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
