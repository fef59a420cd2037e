// Package models defines shared domain types for Ansuz.
package models

import "time"

// FileMeta is a lightweight representation of a sync-directory file
// returned by list operations.
type FileMeta struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
