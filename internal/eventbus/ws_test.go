package eventbus

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(h *SessionHandler) (*httptest.Server, string) {
	srv := httptest.NewServer(h)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func TestSessionHandler_DispatchesTextCommand(t *testing.T) {
	var mu sync.Mutex
	var gotCmd Command
	got := make(chan struct{}, 1)

	h := NewSessionHandler(func(cmd Command, bus *Bus) {
		mu.Lock()
		gotCmd = cmd
		mu.Unlock()
		got <- struct{}{}
	}, nil, nil)

	srv, wsURL := newTestServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Command{Name: "startListening", SourceLanguage: "en", TargetLanguage: "ja"}))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("onCommand was never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "startListening", gotCmd.Name)
	assert.Equal(t, "en", gotCmd.SourceLanguage)
	assert.Equal(t, "ja", gotCmd.TargetLanguage)
}

func TestSessionHandler_DispatchesBinaryAudio(t *testing.T) {
	got := make(chan []byte, 1)
	h := NewSessionHandler(nil, func(frame []byte, bus *Bus) {
		got <- frame
	}, nil)

	srv, wsURL := newTestServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte{1, 2, 3, 4}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, payload))

	select {
	case frame := <-got:
		assert.Equal(t, payload, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("onAudio was never invoked")
	}
}

func TestSessionHandler_OnCloseFiresOnDisconnect(t *testing.T) {
	closed := make(chan struct{}, 1)
	h := NewSessionHandler(nil, nil, func(bus *Bus) {
		closed <- struct{}{}
	})

	srv, wsURL := newTestServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	conn.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("onClose was never invoked after disconnect")
	}
}

func TestSessionHandler_UnparseableCommandIsIgnored(t *testing.T) {
	called := make(chan struct{}, 1)
	h := NewSessionHandler(func(cmd Command, bus *Bus) {
		called <- struct{}{}
	}, nil, nil)

	srv, wsURL := newTestServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(Command{Name: "stopListening"}))

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("the well-formed command after the bad one should still dispatch")
	}
}
