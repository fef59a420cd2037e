package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ListDocuments handles GET /api/documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": h.svc.ListDocuments(),
	})
}

// CreateDocument handles POST /api/documents.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	detail, err := h.svc.CreateNote(r.Context(), req.ID)
	if err != nil {
		h.writeDocError(w, req.ID, "create document", err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// GetDocument handles GET /api/documents/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := h.svc.GetDocument(r.Context(), id)
	if err != nil {
		h.writeDocError(w, id, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// GetDocumentText handles GET /api/documents/{id}/text.
func (h *Handler) GetDocumentText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, err := h.svc.DocumentText(r.Context(), id)
	if err != nil {
		h.writeDocError(w, id, "get document text", err)
		return
	}
	writeJSON(w, http.StatusOK, text)
}

// AppendBlock handles POST /api/documents/{id}/blocks.
func (h *Handler) AppendBlock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	id := chi.URLParam(r, "id")
	var req struct {
		Tag  string `json:"tag"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Tag == "" {
		req.Tag = "p"
	}
	detail, err := h.svc.AppendBlock(r.Context(), id, req.Tag, req.Text)
	if err != nil {
		h.writeDocError(w, id, "append block", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CompactDocument handles POST /api/documents/{id}/compact.
func (h *Handler) CompactDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.svc.Compact(r.Context(), id)
	if err != nil {
		h.writeDocError(w, id, "compact", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RunGC handles POST /api/gc.
func (h *Handler) RunGC(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	stats, err := h.svc.RunGC(r.Context(), dryRun)
	if err != nil {
		slog.Error("gc failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, GCResponse{DryRun: dryRun, Stats: stats})
}

// RunMigration handles POST /api/migrate.
func (h *Handler) RunMigration(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.RunMigration(r.Context())
	if err != nil {
		slog.Error("migration failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, MigrateResponse{Report: report})
}

// ListFolders handles GET /api/folders.
func (h *Handler) ListFolders(w http.ResponseWriter, r *http.Request) {
	parent := r.URL.Query().Get("parent")
	folders, err := h.svc.Folders(r.Context(), parent)
	if err != nil {
		slog.Error("list folders failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"folders": folders,
	})
}

// UpsertFolder handles PUT /api/folders.
func (h *Handler) UpsertFolder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req FolderInfo
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	if err := h.svc.UpsertFolder(r.Context(), req); err != nil {
		slog.Error("upsert folder failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveFolder handles DELETE /api/folders/{id}.
func (h *Handler) RemoveFolder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.RemoveFolder(r.Context(), id); err != nil {
		h.writeDocError(w, id, "remove folder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeDocError(w http.ResponseWriter, id, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidDocID):
		writeJSON(w, http.StatusBadRequest, errorBody("invalid document id"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrDegradedDocument):
		writeJSON(w, http.StatusConflict, errorBody("document is degraded"))
	case errors.Is(err, apperr.ErrNotReady), errors.Is(err, apperr.ErrClosed):
		writeJSON(w, http.StatusConflict, errorBody("document is not ready"))
	default:
		slog.Error(op+" failed",
			slog.String("doc", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
