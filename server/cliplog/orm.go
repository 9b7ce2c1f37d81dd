package cliplog

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

type ClipStatus string

// SYNC-CLIP-STATUS
const (
	StatusPending  ClipStatus = "pending"  // Finalized, but export has not completed
	StatusExported ClipStatus = "exported" // Written to blob storage, or uploaded
	StatusFailed   ClipStatus = "failed"   // Export failed. Media is retained for a manual retry.
	StatusLost     ClipStatus = "lost"     // Export failed, and the media is no longer available
)

type Clip struct {
	BaseModel
	Owner     string      `json:"owner"`
	StartAt   dbh.IntTime `json:"startAt"`
	EndAt     dbh.IntTime `json:"endAt"`
	CreatedAt dbh.IntTime `json:"createdAt"`
	NumChunks int         `json:"numChunks"`
	Size      int64       `json:"size"`
	Mode      string      `json:"mode"` // "download" or "upload"
	Status    ClipStatus  `json:"status"`
	Location  string      `json:"location"` // Blob name, or the upload filename
	Error     string      `json:"error"`
}
