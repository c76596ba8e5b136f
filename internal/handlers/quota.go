package handlers

import (
	"errors"
	"net/http"

	"github.com/notezilla/apiserver/internal/services"
	"github.com/notezilla/apiserver/internal/store"
	"github.com/rs/zerolog"
)

// QuotaExceededDetail is the error payload of a rejected tracked call.
type QuotaExceededDetail struct {
	Message      string `json:"message"`
	CurrentCalls int    `json:"currentCalls"`
	MaxCalls     int    `json:"maxCalls"`
}

// RequireQuota spends one tracked API call of the authenticated user and
// attaches the resulting usage to the request. It must run after RequireAuth.
func RequireQuota(userService *services.UserService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthorized: missing user ID")
				return
			}

			usage, err := userService.ConsumeAPICall(r.Context(), identity.ID)
			if err != nil {
				var quotaErr *services.QuotaExceededError
				switch {
				case errors.As(err, &quotaErr):
					writeErrorDetail(w, http.StatusForbidden, "API call limit exceeded", QuotaExceededDetail{
						Message:      "You have reached your maximum of 20 API calls",
						CurrentCalls: quotaErr.Current,
						MaxCalls:     quotaErr.Max,
					})
				case errors.Is(err, store.ErrNotFound):
					writeError(w, http.StatusUnauthorized, "Unauthenticated")
				default:
					zerolog.Ctx(r.Context()).Error().Err(err).Int("user_id", identity.ID).Msg("failed to track api usage")
					writeError(w, http.StatusInternalServerError, "Failed to track API usage")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(withUsage(r.Context(), usage)))
		})
	}
}
