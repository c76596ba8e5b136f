package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/notezilla/apiserver/types"
)

type contextKey string

const (
	contextIdentityKey contextKey = "identity"
	contextUsageKey    contextKey = "usage"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	ID   int
	Role string
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextIdentityKey, id)
}

// IdentityFromContext returns the identity attached by RequireAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextIdentityKey).(Identity)
	if !ok || id.ID < 1 {
		return Identity{}, false
	}
	return id, true
}

func withUsage(ctx context.Context, usage types.Usage) context.Context {
	return context.WithValue(ctx, contextUsageKey, usage)
}

func usageFromContext(ctx context.Context) (types.Usage, bool) {
	usage, ok := ctx.Value(contextUsageKey).(types.Usage)
	return usage, ok
}

// Response is the envelope of every JSON response.
type Response struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      any    `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Response{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Message: message, StatusCode: status})
}

func writeErrorDetail(w http.ResponseWriter, status int, message string, detail any) {
	writeJSON(w, status, Response{Message: message, StatusCode: status, Error: detail})
}

func parseVideoID(r *http.Request) (int, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "videoID"))
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid video id")
	}
	return id, nil
}

// Healthz reports that the process is serving.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", nil)
}
