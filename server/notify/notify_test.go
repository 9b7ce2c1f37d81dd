package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/buddywatch/buddywatch/server/defs"
	"github.com/buddywatch/buddywatch/server/metrics"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	m := metrics.New()
	hub := NewHub(logs.NewTestingLog(t), m)
	a := hub.AddWatcher()
	b := hub.AddWatcher()
	hub.Notify(Notice{Kind: KindUploadFailed, Level: LevelError, Message: "HTTP 500"})

	for _, ch := range []chan *Event{a, b} {
		ev := <-ch
		require.Equal(t, EventNotice, ev.Type)
		require.Equal(t, KindUploadFailed, ev.Notice.Kind)
		require.False(t, ev.Notice.Time.IsZero())
	}
	hub.RemoveWatcher(a)
	hub.PublishDetection(defs.Detection{Success: true, Confidence: 0.9}, 7, true)
	require.Len(t, a, 0)
	ev := <-b
	require.Equal(t, EventDetection, ev.Type)
	require.EqualValues(t, 7, ev.FrameSeq)
	require.EqualValues(t, 1, m.NoticesSent.Load())
	require.Len(t, hub.Recent(), 1)
}

func TestHubDropsForSlowWatcher(t *testing.T) {
	hub := NewHub(logs.NewTestingLog(t), nil)
	ch := hub.AddWatcher()
	for i := 0; i < WatcherChannelSize*2; i++ {
		hub.PublishDetection(defs.Detection{}, uint64(i), false)
	}
	// Never blocks, and never fills the channel completely
	require.Less(t, len(ch), WatcherChannelSize)
	require.EqualValues(t, WatcherChannelSize*2-len(ch), hub.Dropped())
}

func TestRecorderCount(t *testing.T) {
	r := &Recorder{}
	r.Notify(Notice{Kind: KindNothingRecorded})
	r.Notify(Notice{Kind: KindInferenceFailed})
	r.Notify(Notice{Kind: KindInferenceFailed})
	require.Equal(t, 1, r.Count(KindNothingRecorded))
	require.Equal(t, 2, r.Count(KindInferenceFailed))
	require.Len(t, r.Notices(), 3)
}

type fakePublisher struct {
	lock     sync.Mutex
	messages map[string][]byte
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.messages[topic] = payload
	return nil
}

func (f *fakePublisher) get(topic string) []byte {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.messages[topic]
}

func TestMQTTBridge(t *testing.T) {
	hub := NewHub(logs.NewTestingLog(t), nil)
	pub := &fakePublisher{messages: map[string][]byte{}}
	bridge := NewMQTTBridge(logs.NewTestingLog(t), hub, pub, "buddywatch")
	bridge.Start()

	hub.Notify(Notice{Kind: KindRecordingStarted, Message: "Auto-record started"})
	hub.PublishDetection(defs.Detection{Success: true, Confidence: 0.5}, 1, false)
	hub.PublishDetection(defs.Detection{Success: true, Confidence: 0.95}, 2, true)
	bridge.Stop()

	n := Notice{}
	require.NoError(t, json.Unmarshal(pub.get("buddywatch/recording-started"), &n))
	require.Equal(t, "Auto-record started", n.Message)

	det := defs.Detection{}
	require.NoError(t, json.Unmarshal(pub.get("buddywatch/detection"), &det))
	require.Equal(t, 0.95, det.Confidence)
}

func TestWebSocketStreamer(t *testing.T) {
	log := logs.NewTestingLog(t)
	hub := NewHub(log, nil)
	hub.Notify(Notice{Kind: KindExported, Message: "before connect"})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		RunWebSocketStreamer(log, conn, hub)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() Event {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev := Event{}
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}

	// Backlog
	ev := readEvent()
	require.Equal(t, EventNotice, ev.Type)
	require.Equal(t, "before connect", ev.Notice.Message)

	// Live events. The streamer registers its watcher before sending the backlog.
	hub.PublishDetection(defs.Detection{Success: true, Confidence: 0.8}, 3, true)
	ev = readEvent()
	require.Equal(t, EventDetection, ev.Type)
	require.EqualValues(t, 3, ev.FrameSeq)
}
