// Package uihub is the websocket fan-out to browser UI clients. Every state
// delta and notice is pushed to all connected clients, and clients push
// manual override commands and camera frames back in.
package uihub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deckd/deckd/pkg/deck"
	"github.com/deckd/deckd/pkg/jsontime"
	"github.com/deckd/deckd/pkg/modality"
)

const (
	writeTimeout = 5 * time.Second

	// sendQueue bounds per-client backlog. A client that cannot keep up
	// is disconnected rather than allowed to stall the broadcast.
	sendQueue = 32
)

// Outbound frame types.
const (
	frameState  = "state"
	frameDelta  = "delta"
	frameNote   = "note"
	frameHealth = "health"
)

// HealthEntry is one channel's liveness as shown in the UI.
type HealthEntry struct {
	Source modality.Source   `json:"source"`
	Status modality.Status   `json:"status"`
	Age    jsontime.Duration `json:"age,omitempty"`
}

// envelope is the outbound frame.
type envelope struct {
	Type   string        `json:"type"`
	State  *deck.State   `json:"state,omitempty"`
	Delta  *deck.Delta   `json:"delta,omitempty"`
	Kind   string        `json:"kind,omitempty"`
	Text   string        `json:"text,omitempty"`
	Health []HealthEntry `json:"health,omitempty"`
}

// inbound is the frame a browser client sends.
type inbound struct {
	// Type is "command" for a manual override or "frame" for a camera
	// still the model should describe.
	Type string `json:"type"`

	// Command and its parameters, for overrides. The raw object is
	// forwarded so the fusion engine owns the schema.
	Command json.RawMessage `json:"command,omitempty"`

	// ImageURL is the frame location, for frames. Data URLs are accepted.
	ImageURL string `json:"image_url,omitempty"`
}

// Config wires the hub to the rest of the session.
type Config struct {
	// Addr is the listen address, e.g. ":9001".
	Addr string

	// Snapshot returns the current state for newly connected clients.
	Snapshot func() deck.State

	// OnOverride receives manual override events. May be nil.
	OnOverride func(ev *modality.Event)

	// OnFrame receives camera frame URLs for scene description. May be nil.
	OnFrame func(imageURL string)
}

// Hub is the websocket server.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	addr    string
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan *envelope
}

// New creates a hub. Run must be called before clients can connect.
func New(cfg Config) *Hub {
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// The UI is served from the local filesystem or another
			// local port; same-origin checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Run serves until ctx is cancelled. A bind failure is fatal and returned
// immediately; the orchestrator cannot run headless-blind.
func (h *Hub) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.addr = ln.Addr().String()
	h.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleIndex)
	mux.HandleFunc("/ws", h.handleWS)
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	slog.Info("ui hub listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// BroadcastDelta implements dispatch.Broadcaster.
func (h *Hub) BroadcastDelta(d *deck.Delta) {
	h.broadcast(&envelope{Type: frameDelta, Delta: d})
}

// BroadcastNote implements dispatch.Broadcaster.
func (h *Hub) BroadcastNote(kind, text string) {
	h.broadcast(&envelope{Type: frameNote, Kind: kind, Text: text})
}

// BroadcastHealth fans the channel health table out to all clients.
func (h *Hub) BroadcastHealth(entries []HealthEntry) {
	h.broadcast(&envelope{Type: frameHealth, Health: entries})
}

// Addr reports the bound listen address, empty before Run.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(env *envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			// Slow client; drop it so the rest stay current.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// indexHTML is the built-in operator page. A richer front end can be served
// from anywhere and connect to /ws directly.
const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>deckd</title>
<style>
body { font-family: monospace; margin: 2em; background: #111; color: #ddd; }
h1 { font-size: 1.2em; }
#slide { font-size: 3em; }
#mode, #health { color: #8c8; }
#notes { color: #cc8; white-space: pre-line; }
</style>
</head>
<body>
<h1>deckd</h1>
<div id="slide">-</div>
<div id="mode">connecting</div>
<div id="health"></div>
<div id="notes"></div>
<script>
const el = id => document.getElementById(id);
let state = {};
function render() {
  el("slide").textContent = (state.current_slide + 1) + " / " + (state.slide_count || "?");
  el("mode").textContent = state.mode || "";
}
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = e => {
  const m = JSON.parse(e.data);
  if (m.type === "state") { state = m.state; render(); }
  if (m.type === "delta") { Object.assign(state, m.delta); render(); }
  if (m.type === "note") { el("notes").textContent = m.kind + ": " + m.text + "\n" + el("notes").textContent; }
  if (m.type === "health") { el("health").textContent = m.health.map(h => h.source + "=" + h.status).join("  "); }
};
ws.onclose = () => { el("mode").textContent = "disconnected"; };
document.addEventListener("keydown", e => {
  const map = { ArrowRight: "next_slide", ArrowLeft: "prev_slide", Escape: "cancel_query" };
  if (map[e.key]) ws.send(JSON.stringify({ type: "command", command: { command: map[e.key] } }));
});
</script>
</body>
</html>
`

func (h *Hub) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ui client upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan *envelope, sendQueue)}

	// New clients get the full state first so deltas have a base. Queued
	// before the client is registered so broadcast cannot close the
	// channel underneath us.
	if h.cfg.Snapshot != nil {
		state := h.cfg.Snapshot()
		c.send <- &envelope{Type: frameState, State: &state}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("ui client connected", "remote", conn.RemoteAddr().String())

	go c.writeLoop()
	h.readLoop(c)
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for env := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(env); err != nil {
			return
		}
	}
}

// readLoop consumes inbound frames until the client disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.detach(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ui client read failed", "error", err)
			}
			return
		}
		h.dispatchInbound(data)
	}
}

func (h *Hub) dispatchInbound(data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		slog.Warn("malformed ui frame", "error", err)
		return
	}
	switch in.Type {
	case "command":
		if h.cfg.OnOverride == nil || len(in.Command) == 0 {
			return
		}
		// Explicit user actions are fully trusted.
		ev := modality.NewEvent(modality.SourceUI, modality.KindOverride, string(in.Command), 1.0)
		h.cfg.OnOverride(ev)
	case "frame":
		if h.cfg.OnFrame == nil || in.ImageURL == "" {
			return
		}
		h.cfg.OnFrame(in.ImageURL)
	default:
		slog.Debug("unknown ui frame type", "type", in.Type)
	}
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}
