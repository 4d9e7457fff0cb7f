package xiaoai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// testAgent is a fake on-device agent dialed into a link under test.
type testAgent struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialAgent(t *testing.T, srv *httptest.Server) *testAgent {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial agent: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testAgent{t: t, conn: conn}
}

// readRequest reads frames until a request arrives, skipping pings.
func (a *testAgent) readRequest() linkMessage {
	a.t.Helper()
	_ = a.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg linkMessage
		if err := a.conn.ReadJSON(&msg); err != nil {
			a.t.Fatalf("read request: %v", err)
		}
		if msg.Type == "request" {
			return msg
		}
	}
}

func (a *testAgent) send(msg any) {
	a.t.Helper()
	if err := a.conn.WriteJSON(msg); err != nil {
		a.t.Fatalf("agent send: %v", err)
	}
}

func newTestLink(t *testing.T) (*Link, *httptest.Server) {
	t.Helper()
	link := NewLink(time.Second, discardLogger())
	srv := httptest.NewServer(link)
	t.Cleanup(srv.Close)
	t.Cleanup(link.Close)
	return link, srv
}

func waitConnected(t *testing.T, link *Link) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !link.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("agent never registered as connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunShellWithoutConnection(t *testing.T) {
	link := NewLink(time.Second, discardLogger())
	t.Cleanup(link.Close)
	if _, err := link.RunShell(context.Background(), "echo hi", 0); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestRunShellCompletesOnMatchingResponse(t *testing.T) {
	link, srv := newTestLink(t)
	agent := dialAgent(t, srv)
	waitConnected(t, link)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := agent.readRequest()
		if req.Method != "run_shell" {
			t.Errorf("method = %q, want run_shell", req.Method)
		}
		var params runShellParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Errorf("decode params: %v", err)
		}
		if params.Script != "mphelper pause" {
			t.Errorf("script = %q", params.Script)
		}
		agent.send(linkMessage{Type: "response", ID: req.ID, Data: json.RawMessage(`{"code":0}`)})
	}()

	out, err := link.RunShell(context.Background(), "mphelper pause", 0)
	if err != nil {
		t.Fatalf("RunShell: %v", err)
	}
	if string(out) != `{"code":0}` {
		t.Fatalf("result = %s", out)
	}
	<-done
}

func TestRunShellAgentError(t *testing.T) {
	link, srv := newTestLink(t)
	agent := dialAgent(t, srv)
	waitConnected(t, link)

	go func() {
		req := agent.readRequest()
		agent.send(linkMessage{Type: "response", ID: req.ID, Error: "sh: not found"})
	}()

	if _, err := link.RunShell(context.Background(), "nope", 0); err == nil ||
		!strings.Contains(err.Error(), "sh: not found") {
		t.Fatalf("err = %v, want agent error", err)
	}
}

func TestRunShellMismatchedResponseTimesOut(t *testing.T) {
	link, srv := newTestLink(t)
	agent := dialAgent(t, srv)
	waitConnected(t, link)

	go func() {
		agent.readRequest()
		agent.send(linkMessage{Type: "response", ID: "someone-else", Data: json.RawMessage(`1`)})
	}()

	_, err := link.RunShell(context.Background(), "echo hi", 100*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestRunShellFailsWhenAgentDisconnects(t *testing.T) {
	link, srv := newTestLink(t)
	agent := dialAgent(t, srv)
	waitConnected(t, link)

	go func() {
		agent.readRequest()
		agent.conn.Close()
	}()

	if _, err := link.RunShell(context.Background(), "echo hi", 2*time.Second); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestRunShellHonorsContextCancellation(t *testing.T) {
	link, srv := newTestLink(t)
	_ = dialAgent(t, srv)
	waitConnected(t, link)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := link.RunShell(ctx, "sleep 5", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestEventsForwardedInOrder(t *testing.T) {
	link, srv := newTestLink(t)

	var mu sync.Mutex
	var got []string
	link.OnEvent(func(_ context.Context, raw []byte) {
		var msg struct {
			Event string `json:"event"`
		}
		_ = json.Unmarshal(raw, &msg)
		mu.Lock()
		got = append(got, msg.Event)
		mu.Unlock()
	})

	agent := dialAgent(t, srv)
	waitConnected(t, link)
	agent.send(map[string]any{"type": "event", "event": "first", "data": map[string]any{}})
	agent.send(map[string]any{"type": "event", "event": "second", "data": map[string]any{}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("events not forwarded, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("events = %v", got)
	}
}

func TestNewConnectionSupersedesOld(t *testing.T) {
	link, srv := newTestLink(t)
	first := dialAgent(t, srv)
	waitConnected(t, link)

	second := dialAgent(t, srv)
	waitConnected(t, link)

	// The superseded connection is closed by the link.
	_ = first.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.conn.ReadMessage(); err != nil {
			break
		}
	}

	go func() {
		req := second.readRequest()
		second.send(linkMessage{Type: "response", ID: req.ID, Data: json.RawMessage(`"ok"`)})
	}()
	if _, err := link.RunShell(context.Background(), "echo hi", 0); err != nil {
		t.Fatalf("RunShell over new connection: %v", err)
	}
}

func TestNonWSPathIs404(t *testing.T) {
	_, srv := newTestLink(t)
	resp, err := srv.Client().Get(srv.URL + "/other")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
