package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/motionlive/motionlive-agent/internal/convert"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func waitUntil(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := startHub(t)
	c := &Client{hub: h, send: make(chan []byte, 1)}

	h.register <- c
	waitUntil(t, 2*time.Second, func() bool { return h.ClientCount() == 1 })

	h.broadcast <- []byte("hello")
	select {
	case msg := <-c.send:
		if string(msg) != "hello" {
			t.Fatalf("broadcast payload = %q, want %q", msg, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}

	h.unregister <- c
	waitUntil(t, 2*time.Second, func() bool { return h.ClientCount() == 0 })
	if _, ok := <-c.send; ok {
		t.Fatal("send channel still open after unregister")
	}
}

func TestHub_DropsBlockedClient(t *testing.T) {
	h := startHub(t)
	blocked := &Client{hub: h, send: make(chan []byte)}

	h.register <- blocked
	waitUntil(t, 2*time.Second, func() bool { return h.ClientCount() == 1 })

	h.broadcast <- []byte("x")
	waitUntil(t, 2*time.Second, func() bool { return h.ClientCount() == 0 })
}

func TestHub_TransitionNeverBlocks(t *testing.T) {
	// Not running: the queue fills and further frames are dropped.
	h := NewHub(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(h.broadcast)+10; i++ {
			h.Transition(convert.Transition{ConversionID: fmt.Sprint(i), To: convert.StateExtracting})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Transition() blocked on a full queue")
	}
	if n := len(h.broadcast); n != cap(h.broadcast) {
		t.Errorf("queued = %d, want %d", n, cap(h.broadcast))
	}
}

func TestMessageFor(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	m := messageFor(convert.Transition{
		ConversionID: "abc",
		Target:       convert.TargetGIF,
		From:         convert.StateAwaitingTranscode,
		To:           convert.StateFailed,
		At:           at,
		Err:          fmt.Errorf("%w: exit status 1", convert.ErrTranscodeFailed),
	})
	if m.Type != "transition" || m.ErrorCode != "transcode_failed" {
		t.Errorf("messageFor() = %+v", m)
	}
	if !strings.Contains(m.Error, "exit status 1") {
		t.Errorf("Error = %q, want cause", m.Error)
	}
}

func TestServeWS_DeliversTransition(t *testing.T) {
	h := startHub(t)
	ts := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	waitUntil(t, 2*time.Second, func() bool { return h.ClientCount() == 1 })

	h.Transition(convert.Transition{
		ConversionID: "job-1",
		Target:       convert.TargetLivePhoto,
		From:         convert.StateIdle,
		To:           convert.StateExtracting,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if m.ConversionID != "job-1" || m.To != convert.StateExtracting {
		t.Errorf("frame = %+v, want job-1 -> extracting", m)
	}
}

func TestServeWS_RejectsForeignOrigin(t *testing.T) {
	h := startHub(t)
	ts := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("Dial() succeeded, want origin rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %v, want 403", resp)
	}
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8787", true},
		{"https://example.com", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/events", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := localOrigin(r); got != tt.want {
			t.Errorf("localOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
