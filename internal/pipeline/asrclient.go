package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ryouen/univoice-core/internal/metrics"
)

// AsrState is the AsrClient connection state machine (spec §4.2).
type AsrState string

const (
	AsrDisconnected AsrState = "Disconnected"
	AsrConnecting   AsrState = "Connecting"
	AsrOpen         AsrState = "Open"
	AsrClosing      AsrState = "Closing"
	AsrClosed       AsrState = "Closed"
)

// AsrConfig configures one ASR session.
type AsrConfig struct {
	URL         string
	Headers     http.Header
	SourceLang  string
	KeepAliveMs int
}

// AsrInterim is an interim (non-final) ASR result.
type AsrInterim struct {
	SegmentID  string
	Text       string
	Confidence float64
}

// AsrFinal is a final ASR result.
type AsrFinal struct {
	SegmentID  string
	Text       string
	Confidence float64
	StartMs    uint64
	EndMs      uint64
}

// AsrCallbacks receives events parsed off the ASR socket (spec §4.2/§6).
type AsrCallbacks struct {
	OnInterim      func(AsrInterim)
	OnFinal        func(AsrFinal)
	OnUtteranceEnd func()
	OnMetadata     func(json.RawMessage)
	OnError        func(*Error)
}

// AsrClient is a WebSocket client to a cloud ASR service: interim/final
// transcript events, keep-alive, and reconnect with exponential backoff
// (spec §4.2). Each reconnect starts a fresh ASR session; segment ids are
// never reused across sessions, so callers must not assume continuity
// across a reconnect.
type AsrClient struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	state AsrState

	cfg AsrConfig
	cb  AsrCallbacks

	keepAliveStop chan struct{}
	byteSent      uint64
}

// NewAsrClient builds a disconnected client.
func NewAsrClient(cfg AsrConfig, cb AsrCallbacks) *AsrClient {
	return &AsrClient{cfg: cfg, cb: cb, state: AsrDisconnected}
}

// Connect opens the WebSocket and starts the keep-alive loop and the read
// loop. Reconnects (up to 3, backoff 1s/2s/4s capped at 30s) are attempted
// automatically on close codes other than 1000/1001; AuthError is not
// recoverable.
func (c *AsrClient) Connect(ctx context.Context) error {
	return c.connectAttempt(ctx, 0)
}

func (c *AsrClient) connectAttempt(ctx context.Context, attempt int) error {
	c.mu.Lock()
	c.state = AsrConnecting
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if err != nil {
		kind := ErrorTransient
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			kind = ErrorAuth
		}
		aerr := NewError(kind, "asr connect failed", err)
		if c.cb.OnError != nil {
			c.cb.OnError(aerr)
		}
		if kind == ErrorAuth {
			return aerr
		}
		return c.maybeReconnect(ctx, attempt, aerr)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = AsrOpen
	c.keepAliveStop = make(chan struct{})
	c.mu.Unlock()

	go c.keepAliveLoop()
	go c.readLoop(ctx, attempt)
	return nil
}

func (c *AsrClient) maybeReconnect(ctx context.Context, attempt int, cause *Error) error {
	if attempt >= 3 {
		return cause
	}
	backoffs := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	wait := backoffs[attempt]
	if wait > 30*time.Second {
		wait = 30 * time.Second
	}
	metrics.ASRReconnects.Inc()
	slog.Warn("asr reconnecting", "attempt", attempt+1, "backoffMs", wait.Milliseconds())
	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.connectAttempt(ctx, attempt+1)
}

func (c *AsrClient) keepAliveLoop() {
	interval := time.Duration(c.cfg.KeepAliveMs) * time.Millisecond
	if interval <= 0 {
		interval = 8 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	stop := c.keepAliveStop
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sendControl(map[string]string{"type": "KeepAlive"})
		}
	}
}

func (c *AsrClient) readLoop(ctx context.Context, attempt int) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleCloseErr(ctx, attempt, err)
			return
		}
		c.handleMessage(data)
	}
}

func (c *AsrClient) handleCloseErr(ctx context.Context, attempt int, err error) {
	c.mu.Lock()
	c.state = AsrDisconnected
	if c.keepAliveStop != nil {
		close(c.keepAliveStop)
		c.keepAliveStop = nil
	}
	c.mu.Unlock()

	code := websocket.CloseGoingAway
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
	}
	if code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway {
		return
	}

	// spec §4.2: close 4001 is an auth failure, 4000 a bad request — both
	// non-recoverable and must not trigger a reconnect. Everything else
	// (1006, 1011, 5xx, ...) is treated as transient.
	kind := ErrorTransient
	switch code {
	case 4001:
		kind = ErrorAuth
	case 4000:
		kind = ErrorBadRequest
	}

	aerr := NewError(kind, "asr connection closed", err)
	if c.cb.OnError != nil {
		c.cb.OnError(aerr)
	}
	if !kind.Recoverable() {
		return
	}
	_ = c.maybeReconnect(ctx, attempt, aerr)
}

// asrWireMessage mirrors the inbound JSON contract of spec §6.
type asrWireMessage struct {
	Type    string          `json:"type"`
	Channel *asrWireChannel `json:"channel,omitempty"`
	IsFinal bool            `json:"is_final"`
	Start   float64         `json:"start"`
	End     float64         `json:"end"`
}

type asrWireChannel struct {
	Alternatives []asrWireAlternative `json:"alternatives"`
}

type asrWireAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

func (c *AsrClient) handleMessage(data []byte) {
	var msg asrWireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		if c.cb.OnError != nil {
			c.cb.OnError(NewError(ErrorFormat, "unparseable asr message", err))
		}
		return
	}

	switch msg.Type {
	case "Results":
		if msg.Channel == nil || len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		segmentID := fmt.Sprintf("seg-%d", int64(msg.Start*1000))
		if msg.IsFinal {
			if c.cb.OnFinal != nil {
				c.cb.OnFinal(AsrFinal{
					SegmentID:  segmentID,
					Text:       alt.Transcript,
					Confidence: alt.Confidence,
					StartMs:    uint64(msg.Start * 1000),
					EndMs:      uint64(msg.End * 1000),
				})
			}
		} else if c.cb.OnInterim != nil {
			c.cb.OnInterim(AsrInterim{SegmentID: segmentID, Text: alt.Transcript, Confidence: alt.Confidence})
		}
	case "UtteranceEnd":
		if c.cb.OnUtteranceEnd != nil {
			c.cb.OnUtteranceEnd()
		}
	case "Metadata":
		if c.cb.OnMetadata != nil {
			c.cb.OnMetadata(data)
		}
	case "Error":
		if c.cb.OnError != nil {
			c.cb.OnError(NewError(ErrorBadRequest, "asr reported error", nil))
		}
	}
}

// Send writes one PCM16LE binary frame, silently dropping it when the
// socket is not Open (spec §4.2).
func (c *AsrClient) Send(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AsrOpen || c.conn == nil {
		return
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return
	}
	c.byteSent += uint64(len(frame))
}

func (c *AsrClient) sendControl(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AsrOpen || c.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends Finalize then CloseStream, waits a fixed 1s (it does not
// wait for an acknowledgement), and closes the socket.
func (c *AsrClient) Close() {
	c.sendControl(map[string]string{"type": "Finalize"})
	c.sendControl(map[string]string{"type": "CloseStream"})
	time.Sleep(time.Second)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = AsrClosing
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.keepAliveStop != nil {
		close(c.keepAliveStop)
		c.keepAliveStop = nil
	}
	c.state = AsrClosed
}

// State returns the current connection state.
func (c *AsrClient) State() AsrState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BytesSent returns the total bytes sent, for metrics.
func (c *AsrClient) BytesSent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byteSent
}
