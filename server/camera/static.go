package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fogleman/gg"
)

// StaticSource is a source whose frames and recorded chunks are supplied by the caller.
// It backs the --demo mode, and unit tests.
type StaticSource struct {
	frameHub
	name    string
	encoder *FFmpegEncoder // If not nil, streams are real webm encodings of the frames

	lock    sync.Mutex
	streams []*chanStream
	nOpened atomic.Int32
}

func NewStaticSource(name string) *StaticSource {
	return &StaticSource{name: name}
}

func (s *StaticSource) Name() string {
	return s.name
}

// UseEncoder makes OpenStream encode the published frames with ffmpeg, instead of
// producing only the chunks given to EmitChunk
func (s *StaticSource) UseEncoder(encoder *FFmpegEncoder) {
	s.encoder = encoder
}

// SetFrame makes jpeg the latest frame
func (s *StaticSource) SetFrame(jpeg []byte, width, height int) {
	s.publish(jpeg, width, height)
}

// Disconnect simulates the camera going away
func (s *StaticSource) Disconnect() {
	s.markStopped()
}

func (s *StaticSource) Active() bool {
	return s.active()
}

func (s *StaticSource) LatestFrame() (Frame, error) {
	return s.latestFrame()
}

// NumStreamsOpened is the total number of streams that have been opened
func (s *StaticSource) NumStreamsOpened() int {
	return int(s.nOpened.Load())
}

func (s *StaticSource) OpenStream(ctx context.Context) (MediaStream, error) {
	if !s.Active() {
		return nil, ErrNoMediaSource
	}
	if s.encoder != nil {
		s.nOpened.Add(1)
		return s.encoder.Encode(ctx, &s.frameHub)
	}
	cs := &chanStream{
		chunks: make(chan []byte, 64),
	}
	cs.onClose = func() { s.removeStream(cs) }
	s.lock.Lock()
	s.streams = append(s.streams, cs)
	s.lock.Unlock()
	s.nOpened.Add(1)
	go func() {
		<-ctx.Done()
		cs.Close()
	}()
	return cs, nil
}

// EmitChunk sends a chunk to every open stream
func (s *StaticSource) EmitChunk(chunk []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, cs := range s.streams {
		cs.emit(chunk)
	}
}

func (s *StaticSource) removeStream(cs *chanStream) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.streams = slices.DeleteFunc(s.streams, func(x *chanStream) bool { return x == cs })
}

// NumOpenStreams is the number of streams that have not yet been closed
func (s *StaticSource) NumOpenStreams() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.streams)
}

type chanStream struct {
	lock    sync.Mutex
	chunks  chan []byte
	closed  bool
	onClose func()
}

func (c *chanStream) emit(chunk []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.closed {
		select {
		case c.chunks <- chunk:
		default:
		}
	}
}

func (c *chanStream) Chunks() <-chan []byte {
	return c.chunks
}

func (c *chanStream) Close() error {
	c.lock.Lock()
	wasOpen := !c.closed
	if wasOpen {
		c.closed = true
		close(c.chunks)
	}
	c.lock.Unlock()
	// Called outside of our lock, because EmitChunk holds the source lock while taking ours
	if wasOpen && c.onClose != nil {
		c.onClose()
	}
	return nil
}

// RunDemoFrames publishes a synthetic frame (a moving box and a clock) at the given rate
// until ctx is cancelled.
func (s *StaticSource) RunDemoFrames(ctx context.Context, width, height int, fps int) {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-ctx.Done():
			s.Disconnect()
			return
		case <-ticker.C:
			raw, err := DemoFrame(width, height, i)
			if err == nil {
				s.SetFrame(raw, width, height)
			}
			i++
		}
	}
}

// DemoFrame renders a synthetic JPEG
func DemoFrame(width, height, i int) ([]byte, error) {
	dc := gg.NewContext(width, height)
	dc.SetRGB(0.15, 0.15, 0.18)
	dc.Clear()
	x := float64((i * 7) % width)
	dc.SetRGB(0.8, 0.8, 0.8)
	dc.DrawRectangle(x, float64(height)/3, float64(width)/6, float64(height)/2)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawString(fmt.Sprintf("demo %v", time.Now().Format("15:04:05.0")), 10, 20)
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, dc.Image(), &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
