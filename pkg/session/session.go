// Package session assembles one presentation session: the modality adapters,
// the fusion engine, the dispatcher with its presenter connection, the UI
// hub, and the command journal. A session owns the lifecycle of all of them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deckd/deckd/pkg/adapter"
	"github.com/deckd/deckd/pkg/deck"
	"github.com/deckd/deckd/pkg/dispatch"
	"github.com/deckd/deckd/pkg/fusion"
	"github.com/deckd/deckd/pkg/journal"
	"github.com/deckd/deckd/pkg/jsontime"
	"github.com/deckd/deckd/pkg/kv"
	"github.com/deckd/deckd/pkg/modality"
	"github.com/deckd/deckd/pkg/presenter"
	"github.com/deckd/deckd/pkg/uihub"
)

// Config is the fully resolved session configuration.
type Config struct {
	// Endpoints of the perception and presentation servers.
	AudioURL     string
	GestureURL   string
	VLMBaseURL   string
	VLMModel     string
	PresenterURL string

	// UIAddr is the UI hub listen address.
	UIAddr string

	// DataDir holds the journal database. Empty means in-memory only.
	DataDir string

	// DeckPath is the local PDF to load on the open command.
	DeckPath string

	// Fusion tuning. Zero values take the package defaults.
	Window         time.Duration
	Cooldown       time.Duration
	BaseConfidence float64

	// Dispatch tuning. Zero values take the package defaults.
	AckTimeout   time.Duration
	QueryTimeout time.Duration
}

// Session is one running orchestration session.
type Session struct {
	ID string

	cfg    Config
	store  kv.Store
	audio  *adapter.Audio
	gest   *adapter.Gesture
	vlm    *adapter.VisionLanguage
	ctl    *presenter.Client
	disp   *dispatch.Dispatcher
	engine *fusion.Engine
	hub    *uihub.Hub
}

// New constructs a session. Nothing is connected yet; Run starts everything.
func New(cfg Config) (*Session, error) {
	store, err := openStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("session: open store: %w", err)
	}
	return &Session{
		ID:    uuid.New().String(),
		cfg:   cfg,
		store: store,
	}, nil
}

func openStore(dir string) (kv.Store, error) {
	if dir == "" {
		return kv.NewMemory(), nil
	}
	return kv.NewBadger(kv.BadgerOptions{Dir: dir})
}

// Run starts all components and blocks until ctx is cancelled or a fatal
// error occurs. Adapter outages are not fatal; a UI hub bind failure is.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()

	slog.Info("session starting", "session_id", s.ID)

	s.audio = adapter.NewAudio(ctx, s.cfg.AudioURL)
	s.gest = adapter.NewGesture(ctx, s.cfg.GestureURL)
	s.vlm = adapter.NewVisionLanguage(ctx, s.cfg.VLMBaseURL, s.cfg.VLMModel)

	var ctlOpts []presenter.ClientOption
	if s.cfg.AckTimeout > 0 {
		ctlOpts = append(ctlOpts, presenter.WithAckTimeout(s.cfg.AckTimeout))
	}
	s.ctl = presenter.NewClient(s.cfg.PresenterURL, ctlOpts...)

	jrnl := journal.New(s.store, s.ID)

	s.hub = uihub.New(uihub.Config{
		Addr:     s.cfg.UIAddr,
		Snapshot: s.Snapshot,
		OnOverride: func(ev *modality.Event) {
			s.engine.Override(ev)
		},
		OnFrame: func(imageURL string) {
			s.vlm.Describe(ctx, imageURL)
		},
	})

	s.disp = dispatch.New(s.ctl, dispatch.Config{
		QueryTimeout: s.cfg.QueryTimeout,
		Broadcast:    s.hub,
		Asker:        s.vlm,
		Journal:      jrnl,
		DeckPath:     s.cfg.DeckPath,
	})

	s.engine = fusion.New(fusion.Config{
		Window:         s.cfg.Window,
		Cooldown:       s.cfg.Cooldown,
		BaseConfidence: s.cfg.BaseConfidence,
		OnDrop:         dropObserver(ctx, jrnl, s.hub.BroadcastNote),
	}, s.disp.Mode, s.audio, s.gest, s.vlm)

	// Best effort; the presenter may come up after us.
	if err := s.disp.Recover(ctx); err != nil {
		slog.Warn("presenter not reachable yet, starting cold", "error", err)
	}

	go s.healthLoop(ctx)

	errc := make(chan error, 3)
	go func() { errc <- s.hub.Run(ctx) }()
	go func() { errc <- s.engine.Run(ctx) }()
	go func() { errc <- s.disp.Run(ctx, s.engine.Commands()) }()

	err := <-errc
	cancel()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("session: %w", err)
	}
	<-errc
	<-errc
	return nil
}

// dropObserver records fused-away candidates: a UI note so the operator sees
// why nothing reacted, and a journal record for later inspection. Drops never
// touch the state, so they carry no version.
func dropObserver(ctx context.Context, jrnl *journal.Journal, notify func(kind, text string)) fusion.DropFunc {
	return func(cmd *deck.Command, reason fusion.DropReason) {
		notify(string(reason), cmd.Type.String())
		if err := jrnl.Append(ctx, cmd, 0, journal.OutcomeDropped, string(reason)); err != nil {
			slog.Warn("journal append failed", "command_id", cmd.ID, "error", err)
		}
	}
}

// healthLoop pushes the channel health table to the UI so the operator sees
// a degraded microphone or camera before wondering why nothing reacts.
func (s *Session) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(adapter.DefaultHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			adapters := []interface{ Health() modality.Health }{s.audio, s.gest, s.vlm}
			entries := make([]uihub.HealthEntry, 0, len(adapters))
			for _, a := range adapters {
				h := a.Health()
				var age jsontime.Duration
				if !h.LastHeartbeat.IsZero() {
					age = jsontime.Duration(time.Since(h.LastHeartbeat.Time()))
				}
				entries = append(entries, uihub.HealthEntry{
					Source: h.Source,
					Status: h.Status,
					Age:    age,
				})
			}
			s.hub.BroadcastHealth(entries)
		}
	}
}

// Snapshot returns the current presentation state.
func (s *Session) Snapshot() deck.State {
	return s.disp.Snapshot()
}

func (s *Session) close() {
	for _, c := range []interface{ Close() error }{s.audio, s.gest, s.vlm, s.ctl, s.store} {
		if c != nil {
			c.Close()
		}
	}
	slog.Info("session closed", "session_id", s.ID)
}
