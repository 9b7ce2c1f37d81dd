package notify

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/buddywatch/buddywatch/server/log"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

// Sent by client over websocket
// SYNC-WEBSOCKET-JSON-MSG
type webSocketJSON struct {
	Command string `json:"command"`
}

var nextWebSocketStreamerID int64

// WebSocketStreamer sends hub events to a browser as JSON text messages.
// The browser may send {"command":"pause"} and {"command":"resume"}, for example when the tab is hidden.
// Notices are always delivered, because they are rare and the user needs to see them when the tab returns.
type WebSocketStreamer struct {
	log       logs.Log
	hub       *Hub
	paused    atomic.Bool
	sendQueue chan *Event
}

// Number of events that we buffer on the send side, before dropping events to a slow client
const WebSocketSendBufferSize = 50

// RunWebSocketStreamer blocks until the websocket is closed
func RunWebSocketStreamer(logger logs.Log, conn *websocket.Conn, hub *Hub) {
	id := atomic.AddInt64(&nextWebSocketStreamerID, 1)
	s := &WebSocketStreamer{
		log:       log.NewPrefixLogger(logger, fmt.Sprintf("WebSocket %v", id)),
		hub:       hub,
		sendQueue: make(chan *Event, WebSocketSendBufferSize),
	}
	s.run(conn)
}

func (s *WebSocketStreamer) run(conn *websocket.Conn) {
	events := s.hub.AddWatcher()
	defer s.hub.RemoveWatcher(events)
	defer conn.Close()

	closed := make(chan bool)
	go s.webSocketReader(conn, closed)
	writerDone := make(chan bool)
	go s.webSocketWriter(conn, writerDone)

	// Send the backlog of recent notices, so that a freshly opened page has context
	for _, n := range s.hub.Recent() {
		s.sendQueue <- &Event{Type: EventNotice, Notice: &n}
		if len(s.sendQueue) >= WebSocketSendBufferSize/2 {
			break
		}
	}

	nDropped := 0
	for {
		select {
		case ev := <-events:
			if ev.Type == EventDetection && s.paused.Load() {
				continue
			}
			if len(s.sendQueue) >= WebSocketSendBufferSize {
				nDropped++
				if nDropped%100 == 1 {
					s.log.Infof("Client is slow. Dropped %v events", nDropped)
				}
				continue
			}
			s.sendQueue <- ev
		case <-closed:
			close(s.sendQueue)
			<-writerDone
			return
		}
	}
}

// Read from the websocket and translate commands into state changes
func (s *WebSocketStreamer) webSocketReader(conn *websocket.Conn, closed chan bool) {
	defer close(closed)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg := webSocketJSON{}
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Infof("Failed to decode JSON: %v", err)
			continue
		}
		// SYNC-WEBSOCKET-COMMANDS
		switch msg.Command {
		case "pause":
			s.paused.Store(true)
		case "resume":
			s.paused.Store(false)
		default:
			s.log.Infof("Unknown websocket message from client: '%v'", msg.Command)
		}
	}
}

// Write on a separate goroutine, so that a slow browser never blocks the hub
func (s *WebSocketStreamer) webSocketWriter(conn *websocket.Conn, done chan bool) {
	defer close(done)
	for ev := range s.sendQueue {
		j, err := json.Marshal(ev)
		if err != nil {
			s.log.Errorf("Failed to marshal websocket message: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, j); err != nil {
			s.log.Infof("Error writing to websocket: %v", err)
		}
	}
}
