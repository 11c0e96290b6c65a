package adapter

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/gorilla/websocket"

	"github.com/deckd/deckd/pkg/jsontime"
	"github.com/deckd/deckd/pkg/modality"
)

// parseFunc translates one raw server frame into a normalized event.
// Returning (nil, nil) skips the frame; returning an error drops it as
// malformed.
type parseFunc func(data []byte) (*modality.Event, error)

// wsStream is the shared connection core of the audio and gesture adapters:
// it dials the server, reads frames, assigns per-source sequence numbers,
// tracks heartbeat-based health, and reconnects with exponential backoff.
type wsStream struct {
	source modality.Source
	url    string
	parse  parseFunc
	opts   options

	events    chan *modality.Event
	closeCh   chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc

	seq atomic.Uint64

	mu        sync.Mutex
	status    modality.Status
	heartbeat time.Time
}

// newWSStream starts the connection loop. The stream lives until Close or
// until ctx is cancelled.
func newWSStream(ctx context.Context, source modality.Source, url string, parse parseFunc, opts options) *wsStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &wsStream{
		source:  source,
		url:     url,
		parse:   parse,
		opts:    opts,
		events:  make(chan *modality.Event, opts.queueSize),
		closeCh: make(chan struct{}),
		cancel:  cancel,
		status:  modality.StatusDown,
	}
	go s.run(ctx)
	return s
}

// Events implements Adapter.
func (s *wsStream) Events() iter.Seq2[*modality.Event, error] {
	return func(yield func(*modality.Event, error) bool) {
		for {
			select {
			case <-s.closeCh:
				return
			case ev, ok := <-s.events:
				if !ok {
					return
				}
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

// Health implements Adapter.
func (s *wsStream) Health() modality.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return modality.Health{
		Source:        s.source,
		LastHeartbeat: jsontime.Milli(s.heartbeat),
		Status:        s.status,
	}
}

// Close implements Adapter.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.closeCh)
	})
	return nil
}

func (s *wsStream) setStatus(st modality.Status) {
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	s.mu.Unlock()
	if changed {
		slog.Info("channel status", "source", s.source, "status", st)
	}
}

func (s *wsStream) touch() {
	s.mu.Lock()
	s.heartbeat = time.Now()
	if s.status != modality.StatusUp {
		s.status = modality.StatusUp
	}
	s.mu.Unlock()
}

func (s *wsStream) sinceHeartbeat() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeat.IsZero() {
		return 0
	}
	return time.Since(s.heartbeat)
}

// run dials and serves connections until the stream is closed. The backoff
// resets after every successful dial; retries are unbounded.
func (s *wsStream) run(ctx context.Context) {
	bo := gax.Backoff{
		Initial:    backoffInitial,
		Max:        backoffMax,
		Multiplier: 2,
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := s.opts.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.setStatus(modality.StatusDown)
			pause := bo.Pause()
			slog.Warn("dial failed, retrying",
				"source", s.source, "url", s.url, "pause", pause, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pause):
			}
			continue
		}

		bo = gax.Backoff{
			Initial:    backoffInitial,
			Max:        backoffMax,
			Multiplier: 2,
		}
		s.touch()
		s.setStatus(modality.StatusUp)
		slog.Info("channel connected", "source", s.source, "url", s.url)

		s.serve(ctx, conn)

		conn.Close()
		s.setStatus(modality.StatusDown)
	}
}

// serve reads frames from one connection until it breaks. A side goroutine
// pings the server every heartbeat interval and downgrades the channel to
// Degraded when two intervals pass silently; the read deadline (three
// intervals) turns a dead peer into a reconnect.
func (s *wsStream) serve(ctx context.Context, conn *websocket.Conn) {
	hb := s.opts.heartbeat

	conn.SetPongHandler(func(string) error {
		s.touch()
		return conn.SetReadDeadline(time.Now().Add(3 * hb))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(hb)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(hb)); err != nil {
					return
				}
				if s.sinceHeartbeat() > 2*hb {
					s.setStatus(modality.StatusDegraded)
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(3 * hb)); err != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				slog.Warn("channel read error", "source", s.source, "error", err)
			}
			return
		}
		s.touch()

		ev, err := s.parse(data)
		if err != nil {
			slog.Warn("dropping malformed event",
				"source", s.source, "len", len(data), "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		ev.Seq = s.seq.Add(1)
		s.deliver(ctx, ev)
	}
}

// deliver hands an event to the consumer, shedding the oldest queued event
// when the consumer is behind. Stale intents are worthless in a live
// presentation, so load sheds from the front.
func (s *wsStream) deliver(ctx context.Context, ev *modality.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case s.events <- ev:
			return
		default:
		}
		select {
		case old := <-s.events:
			slog.Debug("shedding stale event", "source", s.source, "id", old.ID)
		default:
		}
	}
}
