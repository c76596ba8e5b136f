package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/notezilla/apiserver/internal/services"
	"github.com/notezilla/apiserver/types"
	"github.com/rs/zerolog"
)

// AdminHandler serves read-only usage reports.
type AdminHandler struct {
	adminService *services.AdminService
}

func NewAdminHandler(adminService *services.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// AdminRouter registers admin routes; every route requires the admin role.
func AdminRouter(r chi.Router, adminService *services.AdminService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewAdminHandler(adminService)

	r.Use(authMiddleware, RequireRole(types.RoleAdmin))
	r.Get("/users", handler.Users)
	r.Get("/endpoints", handler.Endpoints)
}

func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	report, err := h.adminService.Users(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to list users")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeSuccess(w, http.StatusOK, "Users retrieved successfully", report)
}

func (h *AdminHandler) Endpoints(w http.ResponseWriter, r *http.Request) {
	report, err := h.adminService.Endpoints(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to list endpoint stats")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeSuccess(w, http.StatusOK, "Endpoint statistics retrieved successfully", report)
}
