package camera

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// Size of the reads from ffmpeg's stdout. Each read becomes one chunk.
const chunkReadSize = 64 * 1024

// How long we give ffmpeg to flush the webm trailer after we close its stdin
const ffmpegFlushTimeout = 5 * time.Second

// FFmpegEncoder turns a sequence of JPEG frames into a webm (VP8) stream, by piping
// the frames through an ffmpeg child process.
type FFmpegEncoder struct {
	Log  logs.Log
	Path string // Path to the ffmpeg binary
	FPS  int    // Output frame rate
}

func NewFFmpegEncoder(log logs.Log, path string, fps int) *FFmpegEncoder {
	return &FFmpegEncoder{
		Log:  log,
		Path: path,
		FPS:  fps,
	}
}

// Check returns an error if ffmpeg cannot be found
func (e *FFmpegEncoder) Check() error {
	if _, err := exec.LookPath(e.Path); err != nil {
		return fmt.Errorf("ffmpeg not found (%v). Recording will not work: %w", e.Path, err)
	}
	return nil
}

func (e *FFmpegEncoder) args(inputFPS float64) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "image2pipe",
		"-framerate", strconv.FormatFloat(inputFPS, 'f', -1, 64),
		"-c:v", "mjpeg",
		"-i", "-",
		"-an",
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "1M",
		"-r", strconv.Itoa(e.FPS),
		"-f", "webm",
		"-",
	}
}

type ffmpegStream struct {
	log       logs.Log
	hub       *frameHub
	frames    chan Frame
	chunks    chan []byte
	stop      chan struct{}
	done      chan struct{} // Closed once ffmpeg has exited and 'chunks' is closed
	cancel    context.CancelFunc
	stderr    bytes.Buffer
	closeOnce sync.Once
	closeErr  error
}

// Encode starts ffmpeg, and feeds it every new frame published by hub.
// A nil encoder means that ffmpeg is not available, so there is nothing to record with.
func (e *FFmpegEncoder) Encode(ctx context.Context, hub *frameHub) (MediaStream, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: ffmpeg unavailable", ErrNoMediaSource)
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, e.Path, e.args(hub.estimatedFPS())...)
	s := &ffmpegStream{
		log:    e.Log,
		hub:    hub,
		chunks: make(chan []byte, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	cmd.Stderr = &s.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("Failed to start ffmpeg: %w", err)
	}
	s.frames = hub.subscribe()

	go s.writeFrames(stdin)
	go s.readChunks(cmd, stdout)
	return s, nil
}

func (s *ffmpegStream) writeFrames(stdin io.WriteCloser) {
	defer stdin.Close()
	for {
		select {
		case <-s.stop:
			return
		case <-s.done:
			return
		case f := <-s.frames:
			if _, err := stdin.Write(f.JPEG); err != nil {
				s.log.Warnf("Failed to write frame to ffmpeg: %v", err)
				return
			}
		}
	}
}

func (s *ffmpegStream) readChunks(cmd *exec.Cmd, stdout io.Reader) {
	defer close(s.done)
	defer close(s.chunks)
	for {
		buf := make([]byte, chunkReadSize)
		n, err := stdout.Read(buf)
		if n > 0 {
			s.chunks <- buf[:n]
		}
		if err != nil {
			break
		}
	}
	if err := cmd.Wait(); err != nil {
		select {
		case <-s.stop:
			// We asked for this
		default:
			s.log.Errorf("ffmpeg exited unexpectedly: %v %v", err, s.stderr.String())
		}
	}
}

func (s *ffmpegStream) Chunks() <-chan []byte {
	return s.chunks
}

func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s.frames)
		close(s.stop)
		select {
		case <-s.done:
		case <-time.After(ffmpegFlushTimeout):
			s.closeErr = fmt.Errorf("ffmpeg did not exit within %v, killing it", ffmpegFlushTimeout)
			s.cancel()
			<-s.done
		}
		s.cancel()
	})
	return s.closeErr
}
