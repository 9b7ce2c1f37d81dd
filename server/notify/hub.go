package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/buddywatch/buddywatch/pkg/gen"
	"github.com/buddywatch/buddywatch/server/defs"
	"github.com/buddywatch/buddywatch/server/log"
	"github.com/buddywatch/buddywatch/server/metrics"
	"github.com/cyclopcam/logs"
)

type Kind string

// SYNC-NOTICE-KINDS
const (
	KindInferenceFailed   Kind = "inference-failed"
	KindNoMediaSource     Kind = "no-media-source"
	KindNothingRecorded   Kind = "nothing-recorded"
	KindUploadFailed      Kind = "upload-failed"
	KindExported          Kind = "exported"
	KindRecordingStarted  Kind = "recording-started"
	KindRecordingStopped  Kind = "recording-stopped"
	KindRecordingFailed   Kind = "recording-failed"
	KindAuthExpired       Kind = "auth-expired"
	KindRejected          Kind = "rejected"
	KindSurveillanceState Kind = "surveillance"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is a transient, user-visible message (a toast, in a browser)
type Notice struct {
	Kind    Kind      `json:"kind"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier is the sink that components emit notices into
type Notifier interface {
	Notify(n Notice)
}

type EventType string

const (
	EventNotice    EventType = "notice"
	EventDetection EventType = "detection"
)

// Event is what watchers receive. Exactly one of Notice or Detection is set.
// SYNC-WEBSOCKET-EVENT
type Event struct {
	Type      EventType       `json:"type"`
	Notice    *Notice         `json:"notice,omitempty"`
	Detection *defs.Detection `json:"detection,omitempty"`
	FrameSeq  uint64          `json:"frameSeq,omitempty"`
	Drawn     bool            `json:"drawn,omitempty"`
}

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Number of notices that we keep around for Recent()
const recentNoticesSize = 50

// A watcher that keeps falling behind is reported at most once per interval
const slowWatcherLogInterval = 10 * time.Second

// Hub fans notices and detections out to watchers (websockets, MQTT).
// It never blocks the sender: a watcher that falls behind loses events.
type Hub struct {
	Log     logs.Log
	Metrics *metrics.Metrics // May be nil

	dropLog  *log.Throttled
	dropped  atomic.Int64
	lock     sync.RWMutex
	watchers []chan *Event
	recent   []Notice
}

func NewHub(logger logs.Log, m *metrics.Metrics) *Hub {
	return &Hub{
		Log:     logger,
		Metrics: m,
		dropLog: log.NewThrottled(logger, slowWatcherLogInterval),
	}
}

// Register to receive all events
func (h *Hub) AddWatcher() chan *Event {
	h.lock.Lock()
	defer h.lock.Unlock()
	ch := make(chan *Event, WatcherChannelSize)
	h.watchers = append(h.watchers, ch)
	return ch
}

// Unregister a watcher
func (h *Hub) RemoveWatcher(ch chan *Event) {
	h.lock.Lock()
	defer h.lock.Unlock()
	n := len(h.watchers)
	h.watchers = gen.DeleteFirst(h.watchers, ch)
	if len(h.watchers) == n {
		h.Log.Warnf("Hub.RemoveWatcher failed to find channel")
	}
}

func (h *Hub) Notify(n Notice) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	if n.Level == "" {
		n.Level = LevelInfo
	}
	switch n.Level {
	case LevelError:
		h.Log.Errorf("Notice %v: %v", n.Kind, n.Message)
	case LevelWarn:
		h.Log.Warnf("Notice %v: %v", n.Kind, n.Message)
	default:
		h.Log.Infof("Notice %v: %v", n.Kind, n.Message)
	}
	if h.Metrics != nil {
		h.Metrics.NoticesSent.Add(1)
	}

	h.lock.Lock()
	h.recent = append(h.recent, n)
	if len(h.recent) > recentNoticesSize {
		h.recent = h.recent[len(h.recent)-recentNoticesSize:]
	}
	h.lock.Unlock()

	h.send(&Event{Type: EventNotice, Notice: &n})
}

// PublishDetection sends a detection result to watchers. Detections are not logged.
func (h *Hub) PublishDetection(det defs.Detection, frameSeq uint64, drawn bool) {
	h.send(&Event{Type: EventDetection, Detection: &det, FrameSeq: frameSeq, Drawn: drawn})
}

// Dropped is the number of events that slow watchers have missed
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Recent returns the most recent notices, oldest first
func (h *Hub) Recent() []Notice {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return append([]Notice(nil), h.recent...)
}

func (h *Hub) send(ev *Event) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	for _, ch := range h.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			h.dropped.Add(1)
			h.dropLog.Warnf("slow-watcher", "Notice watcher is falling behind. Dropping %v event", ev.Type)
		} else {
			ch <- ev
		}
	}
}

// Recorder is a Notifier that remembers everything it is told. Useful in tests.
type Recorder struct {
	lock    sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.lock.Lock()
	r.notices = append(r.notices, n)
	r.lock.Unlock()
}

func (r *Recorder) Notices() []Notice {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Count returns the number of notices of the given kind
func (r *Recorder) Count(kind Kind) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Kind == kind {
			n++
		}
	}
	return n
}
