package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/fsnotify/fsnotify"
)

// DirSource watches a directory that an external grabber (eg fswebcam, or a camera's FTP upload)
// writes JPEG snapshots into. The newest snapshot becomes the latest frame.
type DirSource struct {
	frameHub
	Log     logs.Log
	dir     string
	name    string
	encoder *FFmpegEncoder
	watcher *fsnotify.Watcher
	run     atomic.Bool
	done    chan struct{}
}

func NewDirSource(log logs.Log, name, dir string, encoder *FFmpegEncoder) *DirSource {
	return &DirSource{
		Log:     log,
		dir:     dir,
		name:    name,
		encoder: encoder,
	}
}

func (s *DirSource) Name() string {
	return s.name
}

func (s *DirSource) Start() error {
	if !s.run.CompareAndSwap(false, true) {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.run.Store(false)
		return fmt.Errorf("Failed to create snapshot directory %v: %w", s.dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.run.Store(false)
		return fmt.Errorf("Failed to create file watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		s.run.Store(false)
		return fmt.Errorf("Failed to watch %v: %w", s.dir, err)
	}
	s.watcher = watcher
	s.done = make(chan struct{})
	s.Log.Infof("Watching %v for snapshots", s.dir)
	go s.processEvents()
	return nil
}

func (s *DirSource) Stop() {
	if !s.run.CompareAndSwap(true, false) {
		return
	}
	s.watcher.Close()
	<-s.done
	s.markStopped()
}

func (s *DirSource) Active() bool {
	return s.run.Load() && s.active()
}

func (s *DirSource) LatestFrame() (Frame, error) {
	if !s.run.Load() {
		return Frame{}, ErrNoMediaSource
	}
	return s.latestFrame()
}

func (s *DirSource) OpenStream(ctx context.Context) (MediaStream, error) {
	if !s.Active() {
		return nil, ErrNoMediaSource
	}
	if s.encoder == nil {
		return nil, fmt.Errorf("%w: ffmpeg unavailable", ErrNoMediaSource)
	}
	return s.encoder.Encode(ctx, &s.frameHub)
}

func (s *DirSource) processEvents() {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.Log.Warnf("Snapshot watcher error: %v", err)
		}
	}
}

func isJPEGName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg")
}

func (s *DirSource) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if !isJPEGName(event.Name) || strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	// A grabber may still be busy writing the file, so we retry a partial JPEG a few times
	for attempt := 0; attempt < 3; attempt++ {
		raw, err := os.ReadFile(event.Name)
		if err == nil {
			if cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw)); err == nil {
				s.publish(raw, cfg.Width, cfg.Height)
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
}
