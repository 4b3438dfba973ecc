package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/downloadd/internal/logctx"
	"github.com/italolelis/downloadd/internal/record"
	"github.com/italolelis/downloadd/internal/storage"
	"github.com/italolelis/downloadd/internal/telemetry"
)

type enqueueRequest struct {
	URI         string `json:"uri"`
	Destination string `json:"destination"`
}

type downloadResponse struct {
	ID                   string `json:"id"`
	URI                  string `json:"uri"`
	Destination          string `json:"destination"`
	Status               int    `json:"status"`
	BytesSoFar           int64  `json:"bytes_so_far"`
	TotalBytes           int64  `json:"total_bytes"`
	ETag                 string `json:"etag,omitempty"`
	NextAttemptNotBefore string `json:"next_attempt_not_before,omitempty"`
	FilePath             string `json:"file_path,omitempty"`
	CreatedAt            string `json:"created_at"`
}

// DownloadsHandler exposes enqueue, query, delete and the explicit trigger.
type DownloadsHandler struct {
	repo      storage.DownloadRepository
	engine    DownloadEngine
	telemetry *telemetry.Telemetry
}

// DownloadEngine is the narrow engine surface the handler drives.
type DownloadEngine interface {
	Kick()
	Delete(ctx context.Context, id string) error
}

// NewDownloadsHandler creates the downloads REST handler.
func NewDownloadsHandler(repo storage.DownloadRepository, engine DownloadEngine, t *telemetry.Telemetry) *DownloadsHandler {
	return &DownloadsHandler{
		repo:      repo,
		engine:    engine,
		telemetry: t,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.Metrics(h.telemetry))

	r.Post("/downloads", h.Enqueue)
	r.Get("/downloads", h.List)
	r.Get("/downloads/{id}", h.Get)
	r.Delete("/downloads/{id}", h.Delete)
	r.Post("/downloads/run", h.Run)

	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return r
}

// Enqueue inserts a new PENDING download and wakes the engine, mirroring the
// enqueue-then-start behavior clients expect.
func (h *DownloadsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	parsed, err := url.Parse(req.URI)
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		http.Error(w, "uri must be an absolute http(s) URI", http.StatusBadRequest)

		return
	}

	dest, err := parseDestination(req.Destination)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	id, err := h.repo.Insert(r.Context(), req.URI, dest)
	if err != nil {
		logger.Error("failed to enqueue download", "err", err)
		http.Error(w, "failed to enqueue download", http.StatusInternalServerError)

		return
	}

	h.engine.Kick()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)

	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (h *DownloadsHandler) List(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	downloads, err := h.repo.GetAll(r.Context())
	if err != nil {
		logger.Error("failed to list downloads", "err", err)
		http.Error(w, "failed to list downloads", http.StatusInternalServerError)

		return
	}

	out := make([]downloadResponse, 0, len(downloads))
	for _, d := range downloads {
		out = append(out, toResponse(d))
	}

	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(out)
}

func (h *DownloadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	d, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	if err != nil {
		logger.Error("failed to get download", "err", err)
		http.Error(w, "failed to get download", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(toResponse(d))
}

// Delete removes the row and the downloaded file.
func (h *DownloadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	err := h.engine.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	if err != nil {
		logger.Error("failed to delete download", "err", err)
		http.Error(w, "failed to delete download", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Run triggers a dispatch pass. Idempotent: with nothing eligible it changes
// nothing.
func (h *DownloadsHandler) Run(w http.ResponseWriter, r *http.Request) {
	h.engine.Kick()

	w.WriteHeader(http.StatusAccepted)
}

func parseDestination(s string) (record.Destination, error) {
	switch s {
	case "", "external":
		return record.DestinationExternal, nil
	case "cache":
		return record.DestinationCachePartition, nil
	default:
		return 0, errors.New("destination must be \"external\" or \"cache\"")
	}
}

func toResponse(d *record.Download) downloadResponse {
	resp := downloadResponse{
		ID:          d.ID,
		URI:         d.URI,
		Destination: destinationName(d.Destination),
		Status:      d.Status,
		BytesSoFar:  d.BytesSoFar,
		TotalBytes:  d.TotalBytes,
		ETag:        d.ETag,
		FilePath:    d.FilePath,
		CreatedAt:   d.CreatedAt.Format(time.RFC3339),
	}

	if !d.NextAttemptNotBefore.IsZero() {
		resp.NextAttemptNotBefore = d.NextAttemptNotBefore.Format(time.RFC3339)
	}

	return resp
}

func destinationName(d record.Destination) string {
	if d == record.DestinationCachePartition {
		return "cache"
	}

	return "external"
}
