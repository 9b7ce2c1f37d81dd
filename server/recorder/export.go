package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/buddywatch/buddywatch/pkg/storage"
	"github.com/buddywatch/buddywatch/server/cliplog"
	"github.com/buddywatch/buddywatch/server/config"
	"github.com/buddywatch/buddywatch/server/metrics"
	"github.com/buddywatch/buddywatch/server/notify"
	"github.com/buddywatch/buddywatch/server/videolib"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

var ErrNoRetainedArtifact = errors.New("No retained recording with that ID")
var ErrInsufficientSpace = errors.New("Insufficient disk space")

// TokenSource supplies the bearer token for uploads
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Exporter hands finished recordings to blob storage (LocalDownload) or the video library (RemoteUpload).
// Recordings that fail to export are retained in memory until a retry succeeds.
type Exporter struct {
	Log          logs.Log
	Storage      storage.Storage
	Uploader     videolib.Uploader
	Tokens       TokenSource
	Notifier     notify.Notifier
	Clips        *cliplog.ClipLog // May be nil
	Metrics      *metrics.Metrics // May be nil
	MinFreeBytes uint64           // Only enforced for filesystem storage

	lock     sync.Mutex
	retained map[int64]*Artifact
	nextID   int64 // Used for IDs when there is no ledger
}

func NewExporter(log logs.Log, store storage.Storage, uploader videolib.Uploader, tokens TokenSource, notifier notify.Notifier) *Exporter {
	return &Exporter{
		Log:      log,
		Storage:  store,
		Uploader: uploader,
		Tokens:   tokens,
		Notifier: notifier,
		retained: map[int64]*Artifact{},
	}
}

// Export the artifact. An empty artifact is not exported, and produces a single "nothing recorded" notice.
// On failure, the artifact is retained for Retry, and the returned error is a *videolib.UploadError
// for uploads.
func (e *Exporter) Export(ctx context.Context, art *Artifact, mode config.ExportMode) error {
	if art.NumChunks() == 0 {
		e.Notifier.Notify(notify.Notice{
			Kind:    notify.KindNothingRecorded,
			Level:   notify.LevelWarn,
			Message: "Nothing was recorded",
		})
		return nil
	}
	if !art.frozen {
		return fmt.Errorf("Recording is still in progress")
	}

	e.register(art, mode)

	location := art.Filename()
	var err error
	switch mode {
	case config.ExportLocalDownload:
		err = e.saveToStorage(art, location)
	case config.ExportRemoteUpload:
		err = e.upload(ctx, art, location)
	default:
		return fmt.Errorf("Unknown export mode '%v'", mode)
	}

	if err != nil {
		e.lock.Lock()
		e.retained[art.ID] = art
		e.lock.Unlock()
		if e.Clips != nil {
			if dbErr := e.Clips.MarkFailed(art.ID, string(mode), err); dbErr != nil {
				e.Log.Errorf("Failed to update clip %v: %v", art.ID, dbErr)
			}
		}
		if e.Metrics != nil {
			e.Metrics.UploadFailures.Add(1)
		}
		e.Notifier.Notify(notify.Notice{
			Kind:    notify.KindUploadFailed,
			Level:   notify.LevelError,
			Message: fmt.Sprintf("Recording %v could not be saved. You can retry it. %v", art.ID, err),
		})
		return err
	}

	e.lock.Lock()
	delete(e.retained, art.ID)
	e.lock.Unlock()
	if e.Clips != nil {
		if dbErr := e.Clips.MarkExported(art.ID, string(mode), location); dbErr != nil {
			e.Log.Errorf("Failed to update clip %v: %v", art.ID, dbErr)
		}
	}
	if e.Metrics != nil {
		e.Metrics.RecordingsExported.Add(1)
	}
	e.Notifier.Notify(notify.Notice{
		Kind:    notify.KindExported,
		Message: fmt.Sprintf("Saved %v", location),
	})
	return nil
}

// Retry the export of a retained artifact
func (e *Exporter) Retry(ctx context.Context, id int64, mode config.ExportMode) error {
	// Claim the artifact, so that two concurrent retries can't both export it
	e.lock.Lock()
	art := e.retained[id]
	delete(e.retained, id)
	e.lock.Unlock()
	if art == nil {
		return ErrNoRetainedArtifact
	}
	// Export re-adds the artifact on failure
	return e.Export(ctx, art, mode)
}

// RetainedIDs returns the IDs of artifacts that are waiting for a retry
func (e *Exporter) RetainedIDs() []int64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	ids := make([]int64, 0, len(e.retained))
	for id := range e.retained {
		ids = append(ids, id)
	}
	return ids
}

// Assign an ID to the artifact, recording it in the ledger if we have one
func (e *Exporter) register(art *Artifact, mode config.ExportMode) {
	if art.ID != 0 {
		return
	}
	if e.Clips != nil {
		clip := &cliplog.Clip{
			Owner:     art.Owner,
			StartAt:   dbh.MakeIntTime(art.StartTime),
			EndAt:     dbh.MakeIntTime(art.EndTime),
			NumChunks: art.NumChunks(),
			Size:      art.Size(),
			Mode:      string(mode),
		}
		err := e.Clips.Add(clip)
		if err == nil {
			art.ID = clip.ID
			return
		}
		e.Log.Errorf("Failed to add clip to ledger: %v", err)
	}
	e.lock.Lock()
	e.nextID--
	art.ID = e.nextID
	e.lock.Unlock()
}

func (e *Exporter) saveToStorage(art *Artifact, name string) error {
	if fs, ok := e.Storage.(*storage.StorageFS); ok && e.MinFreeBytes != 0 {
		free, err := freeSpace(fs.Root)
		if err != nil {
			e.Log.Warnf("Unable to measure free space in %v: %v", fs.Root, err)
		} else if free < e.MinFreeBytes || free < uint64(art.Size()) {
			return fmt.Errorf("%w: %v MB free in %v", ErrInsufficientSpace, free/(1024*1024), fs.Root)
		}
	}
	if err := storage.WriteFile(e.Storage, name, art.Reader()); err != nil {
		return fmt.Errorf("Failed to write %v to %v: %w", name, e.Storage.Describe(), err)
	}
	return nil
}

func (e *Exporter) upload(ctx context.Context, art *Artifact, name string) error {
	token, err := e.Tokens.AccessToken(ctx)
	if err != nil {
		return &videolib.UploadError{Message: err.Error()}
	}
	return e.Uploader.Upload(ctx, token, name, art.Title(), art.Reader())
}
