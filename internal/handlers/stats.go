package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// CallRecorder counts completed requests per method and route.
type CallRecorder interface {
	RecordCall(ctx context.Context, method, endpoint string) error
}

var untrackedPrefixes = []string{"/api-docs", "/doc", "/healthz", "/metrics"}

// TrackEndpoint records every completed request under its matched route
// pattern. OPTIONS requests, unmatched routes, 404 responses and the
// documentation, health and metrics routes are not counted. routeOf resolves
// the pattern after the handler ran.
func TrackEndpoint(recorder CallRecorder, routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if r.Method == http.MethodOptions || ww.Status() == http.StatusNotFound {
				return
			}
			endpoint := routeOf(r)
			if !trackable(endpoint) {
				return
			}

			ctx := context.WithoutCancel(r.Context())
			if err := recorder.RecordCall(ctx, r.Method, endpoint); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("endpoint", endpoint).Msg("failed to record endpoint call")
			}
		})
	}
}

func trackable(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	for _, prefix := range untrackedPrefixes {
		if strings.HasPrefix(endpoint, prefix) || strings.Contains(endpoint, "/api/v1"+prefix) {
			return false
		}
	}
	return true
}
