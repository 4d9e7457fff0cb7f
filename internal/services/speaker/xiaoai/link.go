// Package xiaoai is the bridge to the speaker's patched on-device agent.
// The agent dials a WebSocket into this process, streams speaker events up
// and executes shell one-liners on request. One agent is linked at a time;
// a new connection supersedes the previous one.
package xiaoai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"musicbridge/internal/metrics"
)

// ErrNotConnected is returned by RunShell when no speaker agent holds the
// link.
var ErrNotConnected = errors.New("speaker not connected")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20

	defaultRPCTimeout = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The speaker agent dials from the LAN with no Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// linkMessage is the wire envelope in both directions. Inbound messages are
// either events (the speaker's raw event stream) or responses to an earlier
// request; outbound messages are requests.
type linkMessage struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type runShellParams struct {
	Script    string `json:"script"`
	TimeoutMS int64  `json:"timeout_ms"`
}

type rpcResult struct {
	data json.RawMessage
	err  error
}

// peer is one upgraded agent connection with its write queue.
type peer struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Link accepts the agent connection and multiplexes RPC calls over it.
// Events coming up from the speaker are queued to a single pump goroutine
// and handed to the event handler in arrival order. Handling an event may
// itself issue RunShell calls, so events must never be processed on the
// read goroutine: the response those calls wait for arrives over the same
// connection.
type Link struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
	events     chan []byte
	quit       chan struct{}
	closeOnce  sync.Once

	mu      sync.Mutex
	active  *peer
	pending map[string]chan rpcResult
	onEvent func(context.Context, []byte)
}

func NewLink(rpcTimeout time.Duration, logger *slog.Logger) *Link {
	if rpcTimeout <= 0 {
		rpcTimeout = defaultRPCTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Link{
		rpcTimeout: rpcTimeout,
		logger:     logger,
		events:     make(chan []byte, 256),
		quit:       make(chan struct{}),
		pending:    make(map[string]chan rpcResult),
	}
	go l.eventPump()
	return l
}

// eventPump delivers queued speaker events to the handler one at a time.
func (l *Link) eventPump() {
	for {
		select {
		case <-l.quit:
			return
		case raw := <-l.events:
			l.mu.Lock()
			handler := l.onEvent
			l.mu.Unlock()
			if handler != nil {
				handler(context.Background(), raw)
			}
		}
	}
}

// OnEvent registers the handler for inbound speaker events. Must be called
// before the first connection arrives.
func (l *Link) OnEvent(handler func(context.Context, []byte)) {
	l.mu.Lock()
	l.onEvent = handler
	l.mu.Unlock()
}

// Connected reports whether an agent currently holds the link.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != nil
}

// ServeHTTP upgrades GET /ws. Anything else is 404.
func (l *Link) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ws" {
		http.NotFound(w, r)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("speaker link upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	p := &peer{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	l.mu.Lock()
	old := l.active
	l.active = p
	l.mu.Unlock()
	if old != nil {
		l.logger.Info("speaker reconnected, superseding previous link")
		old.close()
	}
	metrics.SpeakerConnected.Set(1)
	l.logger.Info("speaker agent connected", slog.String("remote", r.RemoteAddr))

	go l.writePump(p)
	l.readPump(p)
}

// Close drops the active connection, stops the event pump and fails
// pending calls.
func (l *Link) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
	l.mu.Lock()
	p := l.active
	l.active = nil
	l.mu.Unlock()
	if p != nil {
		p.close()
	}
	l.failPending(ErrNotConnected)
}

func (p *peer) close() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (l *Link) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case <-p.done:
			_ = p.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "superseded"),
				time.Now().Add(writeWait),
			)
			return
		case msg := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (l *Link) readPump(p *peer) {
	defer func() {
		p.conn.Close()
		p.close()
		l.mu.Lock()
		wasActive := l.active == p
		if wasActive {
			l.active = nil
		}
		l.mu.Unlock()
		if wasActive {
			metrics.SpeakerConnected.Set(0)
			l.failPending(ErrNotConnected)
			l.logger.Info("speaker agent disconnected")
		}
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		l.handleInbound(raw)
	}
}

// handleInbound routes one frame from the agent. Unparseable frames are
// dropped; the event stream is best-effort by design.
func (l *Link) handleInbound(raw []byte) {
	var msg linkMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		l.logger.Debug("speaker frame dropped", slog.String("error", err.Error()))
		return
	}
	switch msg.Type {
	case "response":
		l.completeCall(msg)
	case "event", "":
		select {
		case l.events <- raw:
		default:
			// The pump is far behind; the stream is best-effort.
			l.logger.Warn("speaker event dropped, queue full")
		}
	default:
		l.logger.Debug("speaker frame ignored", slog.String("type", msg.Type))
	}
}

func (l *Link) completeCall(msg linkMessage) {
	l.mu.Lock()
	ch, ok := l.pending[msg.ID]
	if ok {
		delete(l.pending, msg.ID)
	}
	l.mu.Unlock()
	if !ok {
		l.logger.Debug("response for unknown call dropped", slog.String("id", msg.ID))
		return
	}
	if msg.Error != "" {
		ch <- rpcResult{err: fmt.Errorf("agent error: %s", msg.Error)}
		return
	}
	ch <- rpcResult{data: msg.Data}
}

func (l *Link) failPending(err error) {
	l.mu.Lock()
	pending := l.pending
	l.pending = make(map[string]chan rpcResult)
	l.mu.Unlock()
	for _, ch := range pending {
		ch <- rpcResult{err: err}
	}
}

// RunShell executes a shell script on the speaker through the agent and
// returns the raw JSON result. The call fails after timeout (the link
// default when zero), on ctx cancellation, or when the link drops while the
// call is in flight.
func (l *Link) RunShell(ctx context.Context, script string, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = l.rpcTimeout
	}

	params, err := json.Marshal(runShellParams{
		Script:    script,
		TimeoutMS: timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode run_shell params: %w", err)
	}
	id := uuid.NewString()
	frame, err := json.Marshal(linkMessage{
		Type:   "request",
		ID:     id,
		Method: "run_shell",
		Params: params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode run_shell request: %w", err)
	}

	ch := make(chan rpcResult, 1)
	l.mu.Lock()
	p := l.active
	if p == nil {
		l.mu.Unlock()
		return nil, ErrNotConnected
	}
	l.pending[id] = ch
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	select {
	case p.send <- frame:
	case <-p.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.data, res.err
	case <-timer.C:
		return nil, fmt.Errorf("run_shell timed out after %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
