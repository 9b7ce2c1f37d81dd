package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
)

// Maximum size of a single JPEG frame that we'll accept from a camera
const maxFrameBytes = 8 * 1024 * 1024

// MJPEGSource reads an HTTP multipart/x-mixed-replace stream (what most IP webcams
// and mjpg-streamer expose), and keeps only the most recent frame.
type MJPEGSource struct {
	frameHub
	Log     logs.Log
	url     string
	name    string
	encoder *FFmpegEncoder
	run     atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMJPEGSource(log logs.Log, name, url string, encoder *FFmpegEncoder) *MJPEGSource {
	return &MJPEGSource{
		Log:     log,
		url:     url,
		name:    name,
		encoder: encoder,
	}
}

func (s *MJPEGSource) Name() string {
	return s.name
}

func (s *MJPEGSource) Start() {
	if !s.run.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
}

func (s *MJPEGSource) Stop() {
	if !s.run.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	<-s.done
	s.markStopped()
}

func (s *MJPEGSource) Active() bool {
	return s.run.Load() && s.active()
}

func (s *MJPEGSource) LatestFrame() (Frame, error) {
	if !s.run.Load() {
		return Frame{}, ErrNoMediaSource
	}
	return s.latestFrame()
}

func (s *MJPEGSource) OpenStream(ctx context.Context) (MediaStream, error) {
	if !s.Active() {
		return nil, ErrNoMediaSource
	}
	if s.encoder == nil {
		return nil, fmt.Errorf("%w: ffmpeg unavailable", ErrNoMediaSource)
	}
	return s.encoder.Encode(ctx, &s.frameHub)
}

// loop reconnects with a backoff, until Stop is called
func (s *MJPEGSource) loop(ctx context.Context) {
	defer close(s.done)
	backoff := time.Second
	for s.run.Load() {
		start := time.Now()
		err := s.readStream(ctx)
		if !s.run.Load() {
			return
		}
		if time.Since(start) > 30*time.Second {
			backoff = time.Second
		}
		s.Log.Warnf("MJPEG stream %v ended: %v. Reconnecting in %v", s.name, err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func (s *MJPEGSource) readStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %v", resp.Status)
	}
	boundary, err := mjpegBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	s.Log.Infof("Connected to MJPEG stream %v", s.name)
	return s.readParts(multipart.NewReader(resp.Body, boundary))
}

func (s *MJPEGSource) readParts(mr *multipart.Reader) error {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return err
		}
		raw, err := io.ReadAll(io.LimitReader(part, maxFrameBytes))
		part.Close()
		if err != nil {
			return err
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			// Some cameras interleave non-image parts. Skip them.
			continue
		}
		s.publish(raw, cfg.Width, cfg.Height)
	}
}

// mjpegBoundary extracts the boundary from a multipart/x-mixed-replace content type.
// Some cameras include the leading "--" in the boundary parameter, which mime/multipart does not expect.
func mjpegBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("Invalid content type '%v': %w", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("Expected a multipart stream, but got '%v'", mediaType)
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return "", fmt.Errorf("No boundary in content type '%v'", contentType)
	}
	return boundary, nil
}
