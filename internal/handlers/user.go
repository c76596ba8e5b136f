package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/notezilla/apiserver/internal/services"
	"github.com/notezilla/apiserver/internal/store"
	"github.com/rs/zerolog"
)

// UserHandler serves the authenticated user's own account.
type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, userService *services.UserService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewUserHandler(userService)

	r.With(authMiddleware).Get("/profile", handler.Profile)
}

// Profile returns the caller's account with their remaining API calls.
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	user, err := h.userService.GetByID(r.Context(), identity.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to load user")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	usage := services.Usage(user.APICalls)
	writeSuccess(w, http.StatusOK, "Profile retrieved successfully", ProfileResponse{
		ID:                user.ID,
		FirstName:         user.FirstName,
		LastName:          user.LastName,
		Email:             user.Email,
		Role:              user.Role,
		APICalls:          usage.Total,
		APICallsRemaining: usage.Remaining,
		CreatedAt:         user.CreatedAt,
	})
}

type ProfileResponse struct {
	ID                int       `json:"id"`
	FirstName         string    `json:"firstName"`
	LastName          string    `json:"lastName"`
	Email             string    `json:"email"`
	Role              string    `json:"role"`
	APICalls          int       `json:"apiCalls"`
	APICallsRemaining int       `json:"apiCallsRemaining"`
	CreatedAt         time.Time `json:"createdAt"`
}
