package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.CreateDocument)
	r.Get("/documents/{id}", h.GetDocument)
	r.Get("/documents/{id}/text", h.GetDocumentText)
	r.Post("/documents/{id}/blocks", h.AppendBlock)
	r.Post("/documents/{id}/compact", h.CompactDocument)

	// Folder tree.
	r.Get("/folders", h.ListFolders)
	r.Put("/folders", h.UpsertFolder)
	r.Delete("/folders/{id}", h.RemoveFolder)

	// Maintenance.
	r.Post("/gc", h.RunGC)
	r.Post("/migrate", h.RunMigration)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
