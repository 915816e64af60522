// ABOUTME: Admission middleware applying token bucket limits per endpoint
// ABOUTME: Rejections return 429 with a stable kind and machine-readable delay

package server

import (
	"math"
	"net/http"
	"strconv"

	"github.com/2389/marketmind/internal/auth"
)

// admit returns middleware that checks the caller's bucket for the named
// endpoint. A nil limiter disables admission control entirely.
func (s *Server) admit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			identity, _ := auth.FromContext(r.Context())
			decision := s.limiter.Admit(r.Context(), identity.Key, endpoint)

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := decision.RetryAfter.Seconds()
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
			}

			s.logger.Info("request rejected",
				"endpoint", endpoint,
				"client_key", identity.Key,
				"retry_after", decision.RetryAfter)

			s.writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Kind:       "admission_rejected",
				Error:      "rate limit exceeded",
				RetryAfter: retryAfter,
			})
		})
	}
}
