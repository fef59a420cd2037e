package api

import (
	"github.com/starford/ansuz/internal/compact"
	"github.com/starford/ansuz/internal/crdt"
	"github.com/starford/ansuz/internal/migrate"
)

// DocumentSummary is a lightweight item in a document list response.
type DocumentSummary struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
	Degraded bool   `json:"degraded"`
	TotalSeq uint64 `json:"total_seq"`
}

// FileCensus counts the log files currently backing a document.
type FileCensus struct {
	Updates   int `json:"updates"`
	Snapshots int `json:"snapshots"`
	Packs     int `json:"packs"`
	Foreign   int `json:"foreign"`
}

// DocumentDetail is the response payload for a single document.
type DocumentDetail struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	State    string            `json:"state"`
	Degraded bool              `json:"degraded"`
	Clock    map[string]uint64 `json:"clock"`
	Skipped  []string          `json:"skipped,omitempty"`
	Files    FileCensus        `json:"files"`
}

// DocumentText is the extracted plain-text view of a note.
type DocumentText struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// CompactResult reports what one explicit compaction produced.
type CompactResult struct {
	Snapshot string   `json:"snapshot,omitempty"`
	Pack     string   `json:"pack,omitempty"`
	Subsumed []string `json:"subsumed,omitempty"`
}

// FolderInfo is one entry of the folder tree.
type FolderInfo struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID string  `json:"parent_id,omitempty"`
	SDID     string  `json:"sd_id,omitempty"`
	Order    float64 `json:"order"`
}

func folderInfo(n crdt.FolderNode) FolderInfo {
	return FolderInfo{
		ID:       n.ID,
		Name:     n.Name,
		ParentID: n.ParentID,
		SDID:     n.SDID,
		Order:    n.Order,
	}
}

// GCResponse wraps GC stats for the HTTP layer.
type GCResponse struct {
	DryRun bool            `json:"dry_run"`
	Stats  compact.GCStats `json:"stats"`
}

// MigrateResponse wraps a migration report for the HTTP layer.
type MigrateResponse struct {
	Report migrate.Report `json:"report"`
}
