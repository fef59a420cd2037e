package docstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/ansuz/internal/storage"
)

// Registry tracks the documents a session has open. It is an explicit
// object owned by the embedding app's session, created at startup and
// torn down at shutdown, never ambient static state.
type Registry struct {
	store  storage.Adapter
	writer string
	logger *slog.Logger

	mu   sync.Mutex
	docs map[string]*Document
}

// NewRegistry creates an empty registry for one session.
func NewRegistry(store storage.Adapter, writer string, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		writer: writer,
		logger: logger,
		docs:   make(map[string]*Document),
	}
}

// Writer returns the local writer instance ID.
func (r *Registry) Writer() string { return r.writer }

// OpenNote opens (or returns the already-open) note document with the
// given ID. Opening reads the full log; the context cancels between file
// reads.
func (r *Registry) OpenNote(ctx context.Context, id string) (*Document, error) {
	if err := ValidateDocID(id); err != nil {
		return nil, err
	}
	return r.open(ctx, KindNote, id)
}

// OpenTree opens (or returns the already-open) folder-tree document.
func (r *Registry) OpenTree(ctx context.Context) (*Document, error) {
	return r.open(ctx, KindTree, TreeDocID)
}

func (r *Registry) open(ctx context.Context, kind Kind, id string) (*Document, error) {
	r.mu.Lock()
	if d, ok := r.docs[id]; ok {
		r.mu.Unlock()
		return d, nil
	}
	r.mu.Unlock()

	// Load outside the registry lock: opens can be slow and documents are
	// independent.
	d, err := open(ctx, r.store, kind, id, r.writer, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.docs[id]; ok {
		// Lost a racing open; keep the first one.
		d.Close()
		return existing, nil
	}
	r.docs[id] = d
	return d, nil
}

// Get returns an open document without loading anything.
func (r *Registry) Get(id string) (*Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	return d, ok
}

// Open returns all currently open documents.
func (r *Registry) Open() []*Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	return out
}

// Close closes and forgets one document. Closing an unknown ID is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	d, ok := r.docs[id]
	delete(r.docs, id)
	r.mu.Unlock()
	if ok {
		d.Close()
	}
}

// CloseAll tears the registry down at session shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	docs := r.docs
	r.docs = make(map[string]*Document)
	r.mu.Unlock()
	for _, d := range docs {
		d.Close()
	}
}
