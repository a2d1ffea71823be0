package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iksnae/sockdebug/internal"
)

var upgrader = websocket.Upgrader{}

// newTestServer runs handler for every websocket connection
func newTestServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func receive(t *testing.T, c *Conn) (internal.Frame, bool) {
	t.Helper()
	select {
	case f, ok := <-c.Frames():
		return f, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return internal.Frame{}, false
	}
}

func TestConn_ReceivesFramesAndSkipsMalformed(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection","token":"abc","path":"/echo"}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`not a frame`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"token":"no type"}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"data","token":"abc","data":"hi"}`))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	c, err := Dial(context.Background(), Config{URL: url})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	f, ok := receive(t, c)
	if !ok || f.Type != internal.FrameConnection || f.Token != "abc" || f.Path != "/echo" {
		t.Errorf("first frame = %+v", f)
	}
	f, ok = receive(t, c)
	if !ok || f.Type != internal.FrameData || f.Data != "hi" {
		t.Errorf("second frame = %+v, malformed frames should be skipped", f)
	}
	if _, ok := receive(t, c); ok {
		t.Error("Frames() should close when the server closes")
	}
}

func TestConn_Send(t *testing.T) {
	got := make(chan string, 1)
	url := newTestServer(t, func(ws *websocket.Conn) {
		_, data, err := ws.ReadMessage()
		if err == nil {
			got <- string(data)
		}
		// wait for the client close
		_, _, _ = ws.ReadMessage()
	})

	c, err := Dial(context.Background(), Config{URL: url})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := c.Send(context.Background(), internal.Frame{Type: internal.FrameData, Token: "abc", Data: map[string]any{"y": 2}}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case raw := <-got:
		f, err := internal.DecodeFrame([]byte(raw))
		if err != nil || f.Type != internal.FrameData || f.Token != "abc" {
			t.Errorf("server received %s (%v)", raw, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	_ = c.Close()
	if err := c.Send(context.Background(), internal.Frame{Type: internal.FrameData}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close() error = %v, want ErrClosed", err)
	}
}

func TestDial_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websockets here", http.StatusNotFound)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	cfg := Config{
		URL:     url,
		Retries: 2,
		Backoff: BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
	}
	_, err := Dial(context.Background(), cfg)
	var transportErr *internal.TransportError
	if !errors.As(err, &transportErr) || transportErr.Op != "dial" {
		t.Fatalf("Dial() error = %v, want TransportError dial", err)
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Errorf("Dial() error = %v, want ErrBadHandshake in the chain", err)
	}
}

func TestDial_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{
		URL:     "ws://127.0.0.1:1/unreachable",
		Retries: 5,
		Backoff: BackoffConfig{InitialDelay: time.Hour, Multiplier: 1},
	}
	start := time.Now()
	_, err := Dial(ctx, cfg)
	if err == nil {
		t.Fatal("Dial() should fail")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("a cancelled context should stop the retry loop")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Dial() error = %v, want context.Canceled", err)
	}
}
