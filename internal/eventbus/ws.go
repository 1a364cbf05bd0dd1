package eventbus

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Command is one inbound text frame from the UI shell (spec §6's command
// surface).
type Command struct {
	Name          string `json:"name"`
	CorrelationID string `json:"correlationId"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// SessionHandler upgrades one HTTP connection to a WebSocket lecture
// session and dispatches inbound commands to onCommand and inbound PCM16LE
// audio frames to onAudio, writing outbound events via the Bus it builds.
type SessionHandler struct {
	onCommand func(cmd Command, bus *Bus)
	onAudio   func(frame []byte, bus *Bus)
	onClose   func(bus *Bus)
}

// NewSessionHandler builds a handler that invokes onCommand for every
// decoded inbound JSON command and onAudio for every inbound binary frame,
// with a Bus wired to that connection's outbound frames. onClose fires
// once when the connection ends (clean disconnect or read error), letting
// the caller tear down any per-bus session state (e.g. stop a running
// PipelineController) even if the client never sent stopListening. The UI
// shell multiplexes commands and audio over the single connection: text
// frames carry commands (spec §6), binary frames carry raw audio, since a
// second transport for audio would be a second thing to keep in sync with
// session lifecycle.
func NewSessionHandler(onCommand func(cmd Command, bus *Bus), onAudio func(frame []byte, bus *Bus), onClose func(bus *Bus)) *SessionHandler {
	return &SessionHandler{onCommand: onCommand, onAudio: onAudio, onClose: onClose}
}

// ServeHTTP upgrades the connection and runs the session loop until the
// client disconnects.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("eventbus upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	bus := New(newWriter(conn))
	defer bus.Close()
	if h.onClose != nil {
		defer h.onClose(bus)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("eventbus connection closed", "error", err)
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if h.onAudio != nil {
				h.onAudio(data, bus)
			}
		case websocket.TextMessage:
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				slog.Warn("eventbus unparseable command", "error", err)
				continue
			}
			if h.onCommand != nil {
				h.onCommand(cmd, bus)
			}
		}
	}
}

// newWriter wraps a connection's WriteMessage with a mutex, since multiple
// pipeline-task goroutines may Emit concurrently during shutdown draining.
func newWriter(conn *websocket.Conn) func(Event) error {
	var mu sync.Mutex
	return func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}
}
