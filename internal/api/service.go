package api

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/compact"
	"github.com/starford/ansuz/internal/crdt"
	"github.com/starford/ansuz/internal/docstore"
	"github.com/starford/ansuz/internal/logfmt"
	"github.com/starford/ansuz/internal/migrate"
	"github.com/starford/ansuz/internal/storage"
)

// Service coordinates the document registry, compactor, and garbage
// collector for the API layer.
type Service struct {
	reg    *docstore.Registry
	store  storage.Adapter
	comp   *compact.Compactor
	gc     *compact.GC
	gcCfg  compact.GCConfig
	logger *slog.Logger
}

// NewService creates a new API service.
func NewService(reg *docstore.Registry, store storage.Adapter, comp *compact.Compactor, gc *compact.GC, gcCfg compact.GCConfig, logger *slog.Logger) *Service {
	return &Service{reg: reg, store: store, comp: comp, gc: gc, gcCfg: gcCfg, logger: logger}
}

// ListDocuments returns a summary of every open document.
func (s *Service) ListDocuments() []DocumentSummary {
	docs := s.reg.Open()
	out := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentSummary{
			ID:       d.ID(),
			Kind:     d.DocKind().String(),
			State:    d.DocState().String(),
			Degraded: d.Degraded(),
			TotalSeq: d.Clock().TotalSeq(),
		})
	}
	return out
}

// GetDocument returns the detail view of one document, opening it on
// demand when its log directory exists on disk.
func (s *Service) GetDocument(ctx context.Context, id string) (*DocumentDetail, error) {
	doc, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(doc)
}

// CreateNote mints a note ID (when the caller did not supply one) and
// opens the new empty document, creating its directories.
func (s *Service) CreateNote(ctx context.Context, id string) (*DocumentDetail, error) {
	if id == "" {
		id = uuid.NewString()
	}
	doc, err := s.reg.OpenNote(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(doc)
}

// DocumentText returns the extracted title and plain text of a note.
func (s *Service) DocumentText(ctx context.Context, id string) (*DocumentText, error) {
	doc, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	title, err := doc.Title()
	if err != nil {
		return nil, err
	}
	text, err := doc.Text()
	if err != nil {
		return nil, err
	}
	return &DocumentText{ID: id, Title: title, Text: text}, nil
}

// AppendBlock appends one content block to a note through the normal
// local-edit path.
func (s *Service) AppendBlock(ctx context.Context, id, tag, text string) (*DocumentDetail, error) {
	doc, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := doc.AppendBlock(tag, text); err != nil {
		return nil, err
	}
	return s.detail(doc)
}

// Compact takes a snapshot of one document and then packs its raw
// updates. Explicit compaction ignores the background policy thresholds.
func (s *Service) Compact(ctx context.Context, id string) (*CompactResult, error) {
	doc, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, subsumed, err := s.comp.Snapshot(doc)
	if err != nil {
		return nil, err
	}
	pack, _, err := s.comp.BuildPackFile(doc.Dir(), doc.Writer())
	if err != nil {
		return nil, err
	}
	return &CompactResult{Snapshot: snap, Pack: pack, Subsumed: subsumed}, nil
}

// RunGC runs garbage collection across the whole sync directory.
func (s *Service) RunGC(ctx context.Context, dryRun bool) (compact.GCStats, error) {
	cfg := s.gcCfg
	cfg.DryRun = dryRun
	return s.gc.Run(ctx, cfg)
}

// RunMigration converts any remaining legacy update files.
func (s *Service) RunMigration(ctx context.Context) (migrate.Report, error) {
	return migrate.MigrateDirectory(ctx, s.store, s.logger)
}

// Folders lists the children of one folder of the shared tree, in
// convergent display order.
func (s *Service) Folders(ctx context.Context, parentID string) ([]FolderInfo, error) {
	tree, err := s.reg.OpenTree(ctx)
	if err != nil {
		return nil, err
	}
	nodes := tree.ListFolders(parentID)
	out := make([]FolderInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, folderInfo(n))
	}
	return out, nil
}

// UpsertFolder creates or renames/moves a folder in the shared tree.
func (s *Service) UpsertFolder(ctx context.Context, f FolderInfo) error {
	tree, err := s.reg.OpenTree(ctx)
	if err != nil {
		return err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return tree.UpsertFolder(crdt.Folder{
		ID:       f.ID,
		Name:     f.Name,
		ParentID: f.ParentID,
		SDID:     f.SDID,
		Order:    f.Order,
	})
}

// RemoveFolder soft-deletes a folder from the shared tree.
func (s *Service) RemoveFolder(ctx context.Context, id string) error {
	tree, err := s.reg.OpenTree(ctx)
	if err != nil {
		return err
	}
	return tree.RemoveFolder(id)
}

// lookup returns the open document for id, opening it on demand when its
// log directory already exists. Unknown IDs are not implicitly created.
func (s *Service) lookup(ctx context.Context, id string) (*docstore.Document, error) {
	if id == docstore.TreeDocID {
		return s.reg.OpenTree(ctx)
	}
	if err := docstore.ValidateDocID(id); err != nil {
		return nil, err
	}
	if doc, ok := s.reg.Get(id); ok {
		return doc, nil
	}
	exists, err := s.store.Exists(docstore.LogDir(docstore.KindNote, id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("api: document %s: %w", id, apperr.ErrNotFound)
	}
	return s.reg.OpenNote(ctx, id)
}

func (s *Service) detail(doc *docstore.Document) (*DocumentDetail, error) {
	census, err := s.census(doc.Dir())
	if err != nil {
		return nil, err
	}
	return &DocumentDetail{
		ID:       doc.ID(),
		Kind:     doc.DocKind().String(),
		State:    doc.DocState().String(),
		Degraded: doc.Degraded(),
		Clock:    doc.Clock(),
		Skipped:  doc.SkippedFiles(),
		Files:    census,
	}, nil
}

// census classifies the files currently in a log directory by name.
func (s *Service) census(dir string) (FileCensus, error) {
	var c FileCensus
	metas, err := s.store.List(dir, "")
	if err != nil {
		return c, err
	}
	for _, m := range metas {
		info := logfmt.ParseFilename(path.Base(m.Path))
		if info == nil {
			c.Foreign++
			continue
		}
		switch info.Kind {
		case logfmt.KindUpdate:
			c.Updates++
		case logfmt.KindSnapshot:
			c.Snapshots++
		case logfmt.KindPack:
			c.Packs++
		}
	}
	return c, nil
}
