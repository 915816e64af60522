// ABOUTME: Client identity resolution for admission control
// ABOUTME: Authenticated clients key by subject, anonymous clients by IP

package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// Identity is the resolved caller of a request. Key is what the admission
// controller buckets on: "user:<sub>" for authenticated callers, "ip:<host>"
// for anonymous ones.
type Identity struct {
	Key           string
	Subject       string
	Authenticated bool
}

type contextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by the middleware. The second
// return is false when no middleware ran.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// ipKey derives the anonymous bucket key from the request's remote address.
func ipKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return "ip:" + host
}

// Middleware resolves each request's identity and stores it on the context.
// A missing or invalid token never rejects the request; the caller simply
// proceeds anonymously and gets the per-IP bucket.
func Middleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := Identity{Key: ipKey(r.RemoteAddr)}

			if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
				subject, err := verifier.Verify(token)
				if err != nil {
					logger.Debug("token rejected, continuing as anonymous", "error", err)
				} else {
					identity = Identity{
						Key:           "user:" + subject,
						Subject:       subject,
						Authenticated: true,
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}
