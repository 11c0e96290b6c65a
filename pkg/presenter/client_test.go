package presenter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deckd/deckd/pkg/deck"
)

// controlServer is a scriptable stand-in for the PDF presenter's control
// endpoint.
type controlServer struct {
	t  *testing.T
	ts *httptest.Server

	mu      sync.Mutex
	handler func(req request) *Ack
	actions []string
}

func newControlServer(t *testing.T, handler func(req request) *Ack) *controlServer {
	t.Helper()
	cs := &controlServer{t: t, handler: handler}
	upgrader := websocket.Upgrader{}
	cs.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			cs.mu.Lock()
			cs.actions = append(cs.actions, req.Action)
			h := cs.handler
			cs.mu.Unlock()
			ack := h(req)
			if ack == nil {
				continue // scripted silence, client should time out
			}
			if err := conn.WriteJSON(ack); err != nil {
				return
			}
		}
	}))
	t.Cleanup(cs.ts.Close)
	return cs
}

func (cs *controlServer) url() string {
	return "ws" + strings.TrimPrefix(cs.ts.URL, "http")
}

func (cs *controlServer) seen() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.actions...)
}

func okServer(t *testing.T, page, count int) *controlServer {
	return newControlServer(t, func(request) *Ack {
		return &Ack{Status: "ok", CurrentPage: page, PageCount: count}
	})
}

func TestClientApply(t *testing.T) {
	cs := okServer(t, 4, 10)
	c := NewClient(cs.url())
	defer c.Close()

	ack, err := c.Apply(context.Background(), ActionNext, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ack.CurrentPage != 4 || ack.PageCount != 10 {
		t.Fatalf("ack = %+v", ack)
	}
	if seen := cs.seen(); len(seen) != 1 || seen[0] != ActionNext {
		t.Fatalf("server saw %v", seen)
	}
}

func TestClientCurrent(t *testing.T) {
	cs := okServer(t, 2, 7)
	c := NewClient(cs.url())
	defer c.Close()

	ack, err := c.Current(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ack.CurrentPage != 2 {
		t.Fatalf("ack = %+v", ack)
	}
	if seen := cs.seen(); seen[0] != ActionStatus {
		t.Fatalf("server saw %v", seen)
	}
}

func TestClientRejection(t *testing.T) {
	cs := newControlServer(t, func(req request) *Ack {
		return &Ack{Status: "error", Reason: "no such page"}
	})
	c := NewClient(cs.url())
	defer c.Close()

	ack, err := c.Apply(context.Background(), ActionGoTo, map[string]any{"slide": 99})
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := AsError(err)
	if !ok || pe.Kind != KindRejected {
		t.Fatalf("error = %v", err)
	}
	if pe.Retryable() {
		t.Fatal("rejection must not be retryable")
	}
	if ack == nil || ack.Reason != "no such page" {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestClientAckTimeout(t *testing.T) {
	cs := newControlServer(t, func(request) *Ack { return nil })
	c := NewClient(cs.url(), WithAckTimeout(50*time.Millisecond))
	defer c.Close()

	_, err := c.Apply(context.Background(), ActionNext, nil)
	pe, ok := AsError(err)
	if !ok || !pe.Timeout() {
		t.Fatalf("error = %v", err)
	}
	if !pe.Retryable() {
		t.Fatal("timeout must be retryable")
	}
}

func TestClientConnectionError(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/control", WithAckTimeout(100*time.Millisecond))
	defer c.Close()

	_, err := c.Apply(context.Background(), ActionNext, nil)
	pe, ok := AsError(err)
	if !ok || pe.Kind != KindConnection {
		t.Fatalf("error = %v", err)
	}
	if !pe.Retryable() {
		t.Fatal("connection failure must be retryable")
	}
}

func TestClientRedialsAfterTimeout(t *testing.T) {
	var silent bool = true
	var mu sync.Mutex
	cs := newControlServer(t, nil)
	cs.handler = func(request) *Ack {
		mu.Lock()
		defer mu.Unlock()
		if silent {
			return nil
		}
		return &Ack{Status: "ok", CurrentPage: 1, PageCount: 5}
	}

	c := NewClient(cs.url(), WithAckTimeout(50*time.Millisecond))
	defer c.Close()

	if _, err := c.Apply(context.Background(), ActionNext, nil); err == nil {
		t.Fatal("expected timeout")
	}

	mu.Lock()
	silent = false
	mu.Unlock()

	ack, err := c.Apply(context.Background(), ActionNext, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ack.CurrentPage != 1 {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestClientParamsOnWire(t *testing.T) {
	got := make(chan map[string]any, 1)
	cs := newControlServer(t, func(req request) *Ack {
		got <- req.Params
		return &Ack{Status: "ok"}
	})
	c := NewClient(cs.url())
	defer c.Close()

	if _, err := c.Apply(context.Background(), ActionGoTo, map[string]any{"slide": 3}); err != nil {
		t.Fatal(err)
	}
	params := <-got
	// JSON numbers decode as float64.
	if params["slide"] != float64(3) {
		t.Fatalf("params = %v", params)
	}
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		ct     deck.CommandType
		action string
		ok     bool
	}{
		{deck.CommandOpen, ActionOpen, true},
		{deck.CommandNextSlide, ActionNext, true},
		{deck.CommandPrevSlide, ActionPrevious, true},
		{deck.CommandJumpTo, ActionGoTo, true},
		{deck.CommandAnnotate, ActionZoom, true},
		{deck.CommandAskModel, "", false},
		{deck.CommandAnswer, "", false},
		{deck.CommandCancelQuery, "", false},
	}
	for _, tt := range tests {
		action, ok := ActionFor(tt.ct)
		if action != tt.action || ok != tt.ok {
			t.Fatalf("ActionFor(%s) = %q, %v", tt.ct, action, ok)
		}
	}
}

func TestAckDecoding(t *testing.T) {
	var ack Ack
	raw := `{"status":"ok","page_count":12,"current_page":3}`
	if err := json.Unmarshal([]byte(raw), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.PageCount != 12 || ack.CurrentPage != 3 {
		t.Fatalf("ack = %+v", ack)
	}
}
