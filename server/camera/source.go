package camera

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoMediaSource is returned when a camera has no live stream to capture from
var ErrNoMediaSource = errors.New("No media source: the camera is not streaming")

// If we haven't received a frame in this long, we consider the camera to be gone
const StaleFrameTimeout = 5 * time.Second

// Frame is a single JPEG still
type Frame struct {
	JPEG   []byte
	Width  int
	Height int
	Seq    uint64    // Increments with every frame received by the source
	At     time.Time // Time when we received the frame
}

// Source is a live camera feed
type Source interface {
	Name() string

	// Active is true when the source has a fresh frame
	Active() bool

	// LatestFrame returns the most recent frame, or ErrNoMediaSource
	LatestFrame() (Frame, error)

	// OpenStream starts an encoded media stream of the camera, or returns ErrNoMediaSource.
	// The stream runs until it is closed, or ctx is cancelled.
	OpenStream(ctx context.Context) (MediaStream, error)
}

// MediaStream produces encoded media chunks (eg webm clusters)
type MediaStream interface {
	// Chunks is closed when the stream ends
	Chunks() <-chan []byte

	// Close stops the stream, and returns once no more chunks will be produced.
	// It is safe to call Close more than once.
	Close() error
}

// Frame subscribers get a small buffer, and frames are dropped when a subscriber falls behind
const frameSubscriberBufferSize = 4

// Number of frame intervals we remember for estimating FPS
const fpsHistorySize = 30

// frameHub keeps the latest frame, and fans new frames out to subscribers.
// All of our sources embed one of these.
type frameHub struct {
	lock        sync.RWMutex
	latest      Frame
	seq         uint64
	intervals   []time.Duration
	subscribers []chan Frame
	stopped     bool
}

func (h *frameHub) publish(jpeg []byte, width, height int) {
	now := time.Now()
	h.lock.Lock()
	if !h.latest.At.IsZero() {
		h.intervals = append(h.intervals, now.Sub(h.latest.At))
		if len(h.intervals) > fpsHistorySize {
			h.intervals = h.intervals[1:]
		}
	}
	h.seq++
	h.latest = Frame{
		JPEG:   jpeg,
		Width:  width,
		Height: height,
		Seq:    h.seq,
		At:     now,
	}
	h.stopped = false
	frame := h.latest
	for _, ch := range h.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
	h.lock.Unlock()
}

func (h *frameHub) active() bool {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return !h.stopped && h.latest.JPEG != nil && time.Since(h.latest.At) < StaleFrameTimeout
}

func (h *frameHub) latestFrame() (Frame, error) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	if h.stopped || h.latest.JPEG == nil || time.Since(h.latest.At) >= StaleFrameTimeout {
		return Frame{}, ErrNoMediaSource
	}
	return h.latest, nil
}

// markStopped makes the source inactive immediately, instead of waiting for the stale timeout
func (h *frameHub) markStopped() {
	h.lock.Lock()
	h.stopped = true
	h.lock.Unlock()
}

func (h *frameHub) estimatedFPS() float64 {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return EstimateFPS(h.intervals)
}

// EstimatedFPS is the frame rate that the camera is currently delivering
func (h *frameHub) EstimatedFPS() float64 {
	return h.estimatedFPS()
}

func (h *frameHub) subscribe() chan Frame {
	h.lock.Lock()
	defer h.lock.Unlock()
	ch := make(chan Frame, frameSubscriberBufferSize)
	h.subscribers = append(h.subscribers, ch)
	return ch
}

func (h *frameHub) unsubscribe(ch chan Frame) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for i, c := range h.subscribers {
		if c == ch {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			return
		}
	}
}
