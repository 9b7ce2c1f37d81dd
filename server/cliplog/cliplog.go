package cliplog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("Clip not found")

// ClipLog is a ledger of every recording that we have finalized, and what became of it.
// Failed uploads are found here when the user asks for a retry.
type ClipLog struct {
	Log logs.Log
	DB  *gorm.DB
}

func NewClipLog(logger logs.Log, dbFilename string) (*ClipLog, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &ClipLog{
		Log: logger,
		DB:  db,
	}, nil
}

// Add inserts a new clip, and populates clip.ID
func (c *ClipLog) Add(clip *Clip) error {
	if clip.CreatedAt == 0 {
		clip.CreatedAt = dbh.MakeIntTime(time.Now())
	}
	if clip.Status == "" {
		clip.Status = StatusPending
	}
	return c.DB.Create(clip).Error
}

func (c *ClipLog) Get(id int64) (*Clip, error) {
	clip := Clip{}
	if err := c.DB.Where("id = ?", id).First(&clip).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &clip, nil
}

// List returns the most recent clips first
func (c *ClipLog) List(limit int) ([]Clip, error) {
	clips := []Clip{}
	q := c.DB.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&clips).Error; err != nil {
		return nil, err
	}
	return clips, nil
}

func (c *ClipLog) MarkExported(id int64, mode, location string) error {
	return c.update(id, map[string]any{
		"status":   StatusExported,
		"mode":     mode,
		"location": location,
		"error":    "",
	})
}

func (c *ClipLog) MarkFailed(id int64, mode string, cause error) error {
	return c.update(id, map[string]any{
		"status": StatusFailed,
		"mode":   mode,
		"error":  cause.Error(),
	})
}

// MarkLost is for failed clips whose media is gone (eg we restarted since the failure)
func (c *ClipLog) MarkLost(id int64) error {
	return c.update(id, map[string]any{
		"status": StatusLost,
	})
}

// MarkOrphans marks every clip that is still failed or pending as lost.
// Retained media lives in memory, so after a restart there is nothing left to retry.
func (c *ClipLog) MarkOrphans() (int64, error) {
	res := c.DB.Model(&Clip{}).Where("status IN ?", []ClipStatus{StatusFailed, StatusPending}).Update("status", StatusLost)
	return res.RowsAffected, res.Error
}

func (c *ClipLog) update(id int64, fields map[string]any) error {
	res := c.DB.Model(&Clip{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
