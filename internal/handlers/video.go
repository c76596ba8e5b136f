package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/notezilla/apiserver/internal/services"
	"github.com/notezilla/apiserver/internal/storage"
	"github.com/notezilla/apiserver/internal/store"
	"github.com/notezilla/apiserver/types"
	"github.com/rs/zerolog"
)

const (
	maxMultipartMemory = 32 << 20
	maxFormOverhead    = 1 << 20
	formFieldFile      = "file"
	formFieldTitle     = "title"
)

// VideoHandler provides HTTP handlers for uploads and stored summaries.
type VideoHandler struct {
	ingestService *services.IngestService
	videoService  *services.VideoService
}

// NewVideoHandler constructs a handler with the provided services.
func NewVideoHandler(ingestService *services.IngestService, videoService *services.VideoService) *VideoHandler {
	return &VideoHandler{
		ingestService: ingestService,
		videoService:  videoService,
	}
}

// VideoRouter registers video routes on the given router. Every route needs
// authentication; uploads additionally spend one tracked API call.
func VideoRouter(
	r chi.Router,
	ingestService *services.IngestService,
	videoService *services.VideoService,
	authMiddleware func(http.Handler) http.Handler,
	quotaMiddleware func(http.Handler) http.Handler,
) {
	handler := NewVideoHandler(ingestService, videoService)

	r.With(authMiddleware, quotaMiddleware).Post("/upload", handler.Upload)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/summaries", handler.ListSummaries)
		r.Get("/summary/{videoID}", handler.GetSummary)
		r.Put("/summary/{videoID}", handler.UpdateSummary)
		r.Delete("/summary/{videoID}", handler.DeleteSummary)
		r.Get("/summary/{videoID}/media", handler.StreamMedia)
	})
}

// Upload stores the media, transcribes it, summarizes the transcript and
// persists the result.
func (h *VideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxUploadBytes+maxFormOverhead)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "uploaded file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile(formFieldFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	video, err := h.ingestService.Process(r.Context(), services.Upload{
		File:        file,
		Filename:    header.Filename,
		Size:        header.Size,
		ContentType: uploadContentType(header),
		Title:       r.FormValue(formFieldTitle),
		OwnerID:     identity.ID,
	})
	if err != nil {
		writeUploadError(w, err)
		return
	}

	resp := UploadResponse{
		ID:                video.ID,
		Title:             video.Title,
		VideoURL:          video.VideoURL,
		Transcript:        video.Transcript,
		TranscriptSummary: video.Summary,
	}
	if usage, ok := usageFromContext(r.Context()); ok {
		resp.APICalls = usage.Total
		resp.RemainingCalls = usage.Remaining
	}
	writeSuccess(w, http.StatusCreated, "Video created successfully", resp)
}

func (h *VideoHandler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	videos, err := h.videoService.List(r.Context(), identity.ID)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to list videos")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeSuccess(w, http.StatusOK, "Videos retrieved successfully", VideoListResponse{Videos: videos})
}

func (h *VideoHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := videoRequest(w, r)
	if !ok {
		return
	}

	video, err := h.videoService.Get(r.Context(), id, identity.ID)
	if err != nil {
		writeVideoError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Video retrieved successfully", VideoResponse{Video: video})
}

func (h *VideoHandler) UpdateSummary(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := videoRequest(w, r)
	if !ok {
		return
	}

	var req UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}

	video, err := h.videoService.UpdateTitle(r.Context(), id, identity.ID, req.Title)
	if err != nil {
		writeVideoError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Video updated successfully", VideoResponse{Video: video})
}

func (h *VideoHandler) DeleteSummary(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := videoRequest(w, r)
	if !ok {
		return
	}

	if err := h.videoService.Delete(r.Context(), id, identity.ID); err != nil {
		writeVideoError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Video deleted successfully", nil)
}

// StreamMedia writes the stored media of an owned video.
func (h *VideoHandler) StreamMedia(w http.ResponseWriter, r *http.Request) {
	identity, id, ok := videoRequest(w, r)
	if !ok {
		return
	}

	media, video, err := h.videoService.OpenMedia(r.Context(), id, identity.ID)
	if err != nil {
		writeVideoError(w, r, err)
		return
	}
	defer media.Close()

	w.Header().Set("Content-Type", storage.ContentType(video.BlobKey))
	w.Header().Set("Content-Disposition", `inline; filename="`+video.BlobKey+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, media); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Int("video_id", id).Msg("media stream interrupted")
	}
}

type UploadResponse struct {
	ID                int             `json:"id"`
	Title             string          `json:"title"`
	VideoURL          string          `json:"videoUrl"`
	Transcript        string          `json:"transcript"`
	TranscriptSummary json.RawMessage `json:"transcriptSummary"`
	APICalls          int             `json:"apiCalls"`
	RemainingCalls    int             `json:"remainingCalls"`
}

type VideoListResponse struct {
	Videos []types.VideoListItem `json:"videos"`
}

type VideoResponse struct {
	Video types.Video `json:"video"`
}

type UpdateTitleRequest struct {
	Title string `json:"title"`
}

func videoRequest(w http.ResponseWriter, r *http.Request) (Identity, int, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthenticated")
		return Identity{}, 0, false
	}
	id, err := parseVideoID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return Identity{}, 0, false
	}
	return identity, id, true
}

func writeVideoError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Video not found")
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "Not authorized to modify this video")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("video request failed")
		writeError(w, http.StatusInternalServerError, "Server error")
	}
}

func writeUploadError(w http.ResponseWriter, err error) {
	var pipelineErr *services.PipelineError
	switch {
	case errors.Is(err, services.ErrNoFile):
		writeError(w, http.StatusBadRequest, "No file uploaded")
	case errors.Is(err, services.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "uploaded file too large")
	case errors.Is(err, services.ErrUnsupportedMedia):
		writeError(w, http.StatusBadRequest, "Unsupported media type")
	case errors.As(err, &pipelineErr) && pipelineErr.Stage == services.StageSummarization:
		writeErrorDetail(w, http.StatusInternalServerError, "Summarization failed", string(pipelineErr.Stage))
	case errors.As(err, &pipelineErr):
		writeErrorDetail(w, http.StatusInternalServerError, "Upload failed", string(pipelineErr.Stage))
	default:
		writeError(w, http.StatusInternalServerError, "Upload failed")
	}
}

// uploadContentType prefers the part's declared type and falls back to the
// file extension when the client sent none or a generic one.
func uploadContentType(header *multipart.FileHeader) string {
	declared := strings.TrimSpace(header.Header.Get("Content-Type"))
	if declared == "" || strings.HasPrefix(declared, "application/octet-stream") {
		return storage.ContentType(header.Filename)
	}
	return declared
}

