// Package presenter is the client for the PDF presentation server's control
// endpoint. The presenter is the source of truth for slide content: every
// command is acknowledged with the authoritative page count and current
// page, which the dispatcher uses to validate and correct the session state.
package presenter

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deckd/deckd/pkg/deck"
)

// DefaultAckTimeout bounds how long a command waits for the presenter's
// acknowledgement before it is reported as failed.
const DefaultAckTimeout = 2 * time.Second

// Wire actions understood by the presenter's control endpoint.
const (
	ActionOpen     = "OPEN_PRESENTATION"
	ActionNext     = "NEXT_SLIDE"
	ActionPrevious = "PREVIOUS_SLIDE"
	ActionGoTo     = "GO_TO_SLIDE"
	ActionZoom     = "ZOOM_ON_OBJECT"
	ActionStatus   = "STATUS"
)

// ActionFor maps a command type to its presenter wire action. Commands that
// only change orchestrator-side mode (ask/answer/cancel) have no presenter
// action and return ok=false.
func ActionFor(ct deck.CommandType) (action string, ok bool) {
	switch ct {
	case deck.CommandOpen:
		return ActionOpen, true
	case deck.CommandNextSlide:
		return ActionNext, true
	case deck.CommandPrevSlide:
		return ActionPrevious, true
	case deck.CommandJumpTo:
		return ActionGoTo, true
	case deck.CommandAnnotate:
		return ActionZoom, true
	default:
		return "", false
	}
}

// Ack is the presenter's acknowledgement of a control command.
type Ack struct {
	Status      string `json:"status"`
	PageCount   int    `json:"page_count"`
	CurrentPage int    `json:"current_page"`
	Reason      string `json:"reason,omitempty"`
}

// request is the control frame sent to the presenter.
type request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Control is the presenter operations used by the dispatcher.
type Control interface {
	// Apply sends a control action and waits for the acknowledgement.
	Apply(ctx context.Context, action string, params map[string]any) (*Ack, error)

	// Current reports the presenter's authoritative page state.
	Current(ctx context.Context) (*Ack, error)
}

// Client is a websocket Control implementation. It keeps one connection to
// the control endpoint and redials lazily after a failure. Calls are
// serialized; the dispatcher is the only caller.
type Client struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAckTimeout sets the acknowledgement timeout.
func WithAckTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// NewClient creates a control client for the endpoint at url
// (e.g. "ws://127.0.0.1:9002/control"). No connection is made until the
// first call.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:     url,
		timeout: DefaultAckTimeout,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply implements Control.
func (c *Client) Apply(ctx context.Context, action string, params map[string]any) (*Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		dctx, cancel := context.WithTimeout(ctx, c.timeout)
		conn, _, err := c.dialer.DialContext(dctx, c.url, nil)
		cancel()
		if err != nil {
			return nil, &Error{Action: action, Kind: KindConnection, Err: err}
		}
		c.conn = conn
	}

	if err := c.conn.WriteJSON(request{Action: action, Params: params}); err != nil {
		c.drop()
		return nil, &Error{Action: action, Kind: KindConnection, Err: err}
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		c.drop()
		return nil, &Error{Action: action, Kind: KindConnection, Err: err}
	}

	var ack Ack
	if err := c.conn.ReadJSON(&ack); err != nil {
		c.drop()
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, &Error{Action: action, Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Action: action, Kind: KindConnection, Err: err}
	}

	if ack.Status != "ok" {
		return &ack, &Error{Action: action, Kind: KindRejected, Reason: ack.Reason}
	}
	return &ack, nil
}

// Current implements Control.
func (c *Client) Current(ctx context.Context) (*Ack, error) {
	return c.Apply(ctx, ActionStatus, nil)
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// drop discards a broken connection; the next call redials.
func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
