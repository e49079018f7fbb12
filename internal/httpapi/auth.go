package httpapi

import (
	"context"
	"net/http"
	"strings"

	"qms/walkin-queue/internal/access"
)

// Verifier turns a bearer token into the caller's principal.
type Verifier interface {
	Verify(token string) (access.Principal, error)
}

type principalContextKey struct{}

func AuthMiddleware(verifier Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		principal, err := verifier.Verify(token)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) (access.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(access.Principal)
	return principal, ok
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return access.Principal{}, false
	}
	return principal, true
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// Display screens poll the screen state anonymously; print agents carry their
// own shared secret.
func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/screen-state":
		return r.Method == http.MethodGet
	case "/api/print-jobs/next", "/api/print-jobs/ack":
		return true
	default:
		return r.Method == http.MethodOptions
	}
}
