package fusion

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/deckd/deckd/pkg/adapter"
	"github.com/deckd/deckd/pkg/deck"
	"github.com/deckd/deckd/pkg/modality"
)

// Defaults for the arbitration tuning knobs.
const (
	DefaultWindow   = 300 * time.Millisecond
	DefaultCooldown = 2 * time.Second

	// DefaultBaseConfidence is the acceptance floor for candidates from a
	// healthy channel.
	DefaultBaseConfidence = 0.5

	// DegradedPenalty raises the acceptance floor for candidates from a
	// degraded channel.
	DegradedPenalty = 0.2
)

// DropReason classifies why a candidate did not become a command.
type DropReason string

const (
	DropChannelDown   DropReason = "channel_down"
	DropLowConfidence DropReason = "low_confidence"
	DropConflict      DropReason = "conflict"
	DropSuppressed    DropReason = "qa_pending"
	DropDebounced     DropReason = "debounced"
)

// DropFunc observes dropped candidates so the UI can show a subtle
// indicator. May be nil.
type DropFunc func(cmd *deck.Command, reason DropReason)

// ModeFunc reports the session's current mode. The dispatcher provides it
// from its state snapshot.
type ModeFunc func() deck.Mode

// Config tunes the engine.
type Config struct {
	// Window is the arbitration window opened by the first candidate.
	Window time.Duration

	// Cooldown collapses identical commands that repeat across windows.
	// Manual overrides bypass it.
	Cooldown time.Duration

	// BaseConfidence is the acceptance floor for healthy channels.
	BaseConfidence float64

	// OnDrop observes dropped candidates. May be nil.
	OnDrop DropFunc
}

func (c *Config) window() time.Duration {
	if c.Window > 0 {
		return c.Window
	}
	return DefaultWindow
}

func (c *Config) cooldown() time.Duration {
	if c.Cooldown > 0 {
		return c.Cooldown
	}
	return DefaultCooldown
}

func (c *Config) baseConfidence() float64 {
	if c.BaseConfidence > 0 {
		return c.BaseConfidence
	}
	return DefaultBaseConfidence
}

// candidate is one classified intent waiting out the arbitration window.
type candidate struct {
	cmd *deck.Command
	ev  *modality.Event
}

// Engine is the single sequential decision point that drains all adapter
// streams plus the manual override channel and emits the winning command of
// each arbitration window. There is exactly one Engine goroutine per
// session, so no two candidates ever race.
type Engine struct {
	cfg      Config
	mode     ModeFunc
	grammar  *Grammar
	adapters map[modality.Source]adapter.Adapter

	overrides chan *modality.Event
	out       chan *deck.Command

	pending  *candidate
	windowC  <-chan time.Time
	windowT  *time.Timer
	lastEmit map[deck.CommandType]time.Time
}

// New creates an engine over the given adapters. The mode function gates
// navigation while a question is pending.
func New(cfg Config, mode ModeFunc, adapters ...adapter.Adapter) *Engine {
	m := make(map[modality.Source]adapter.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Health().Source] = a
	}
	return &Engine{
		cfg:       cfg,
		mode:      mode,
		grammar:   NewGrammar(),
		adapters:  m,
		overrides: make(chan *modality.Event, 16),
		out:       make(chan *deck.Command, 16),
		lastEmit:  make(map[deck.CommandType]time.Time),
	}
}

// Commands returns the ordered fused command stream.
func (e *Engine) Commands() <-chan *deck.Command {
	return e.out
}

// Override injects a manual command event from the browser. Overrides enter
// arbitration at the highest priority tier.
func (e *Engine) Override(ev *modality.Event) {
	select {
	case e.overrides <- ev:
	default:
		slog.Warn("override queue full, dropping", "id", ev.ID)
	}
}

// Run drains events until ctx is cancelled. It owns all arbitration state.
func (e *Engine) Run(ctx context.Context) error {
	merged := make(chan *modality.Event, 128)
	for _, a := range e.adapters {
		go pump(ctx, a, merged)
	}

	defer close(e.out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-merged:
			e.handle(ev)
		case ev := <-e.overrides:
			e.handle(ev)
		case <-e.windowC:
			e.flush()
		}
	}
}

// pump forwards one adapter's events into the merged channel.
func pump(ctx context.Context, a adapter.Adapter, merged chan<- *modality.Event) {
	for ev, err := range a.Events() {
		if err != nil {
			slog.Warn("adapter stream error", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case merged <- ev:
		}
	}
}

// handle classifies one event and runs it through health gating, mode
// suppression, debounce, and window arbitration.
func (e *Engine) handle(ev *modality.Event) {
	cmd := e.classify(ev)
	if cmd == nil {
		return
	}

	health := e.health(ev.Source)
	if !health.Live() {
		e.drop(cmd, DropChannelDown)
		return
	}

	threshold := e.cfg.baseConfidence()
	if health.Status == modality.StatusDegraded {
		threshold += DegradedPenalty
	}

	if ev.Confidence < threshold {
		e.drop(cmd, DropLowConfidence)
		return
	}

	// While a question is pending, only an explicit cancel may act;
	// a slide change would invalidate the in-flight query.
	if e.mode() == deck.ModeQAPending && cmd.Type.Navigation() {
		e.drop(cmd, DropSuppressed)
		return
	}

	if e.debounced(cmd) {
		e.drop(cmd, DropDebounced)
		return
	}

	cand := &candidate{cmd: cmd, ev: ev}
	if e.pending == nil {
		e.pending = cand
		e.openWindow()
		return
	}
	e.arbitrate(cand)
}

// arbitrate compares a late candidate against the pending one. Identical
// same-source repeats collapse silently; otherwise the higher priority
// source wins, ties going to the earlier event, then the lower sequence
// number.
func (e *Engine) arbitrate(cand *candidate) {
	cur := e.pending
	if cand.cmd.Type == cur.cmd.Type && cand.ev.Source == cur.ev.Source {
		return
	}

	if better(cand, cur) {
		e.pending = cand
		e.drop(cur.cmd, DropConflict)
		return
	}
	e.drop(cand.cmd, DropConflict)
}

// better reports whether a should win over b.
func better(a, b *candidate) bool {
	pa, pb := a.ev.Source.Priority(), b.ev.Source.Priority()
	if pa != pb {
		return pa > pb
	}
	if !a.ev.Time.Time().Equal(b.ev.Time.Time()) {
		return a.ev.Time.Before(b.ev.Time)
	}
	return a.ev.Seq < b.ev.Seq
}

// debounced reports whether an identical command fired within the cooldown.
// Explicit UI actions always pass.
func (e *Engine) debounced(cmd *deck.Command) bool {
	if cmd.Source == modality.SourceUI {
		return false
	}
	last, ok := e.lastEmit[cmd.Type]
	return ok && time.Since(last) < e.cfg.cooldown()
}

// drop discards a candidate, informing the observer.
func (e *Engine) drop(cmd *deck.Command, reason DropReason) {
	slog.Debug("candidate dropped", "type", cmd.Type, "source", cmd.Source, "reason", reason)
	if e.cfg.OnDrop != nil {
		e.cfg.OnDrop(cmd, reason)
	}
}

func (e *Engine) openWindow() {
	e.windowT = time.NewTimer(e.cfg.window())
	e.windowC = e.windowT.C
}

// flush emits the window's winner.
func (e *Engine) flush() {
	cand := e.pending
	e.pending = nil
	e.windowC = nil
	e.windowT = nil
	if cand == nil {
		return
	}
	e.lastEmit[cand.cmd.Type] = time.Now()
	slog.Info("command fused",
		"type", cand.cmd.Type, "source", cand.cmd.Source, "id", cand.cmd.ID)
	e.out <- cand.cmd
}

// classify turns a normalized event into a candidate command, or nil when
// the event carries no actionable intent.
func (e *Engine) classify(ev *modality.Event) *deck.Command {
	switch ev.Kind {
	case modality.KindGesture:
		ct, ok := gestureCommand(ev.Payload)
		if !ok {
			slog.Debug("unmapped gesture", "name", ev.Payload)
			return nil
		}
		return e.command(ct, ev, deck.Args{})

	case modality.KindTranscriptFinal:
		intent := e.grammar.Feed(ev.Payload, ev.Time.Time())
		if intent == nil {
			return nil
		}
		return e.command(intent.Type, ev, intent.Args)

	case modality.KindTranscriptPartial:
		// Partials repeat the growing utterance; only finals feed the
		// grammar, or words would be double counted.
		return nil

	case modality.KindAnnotation:
		return e.command(deck.CommandAnnotate, ev, deck.Args{Object: ev.Payload})

	case modality.KindAnswer:
		return e.command(deck.CommandAnswer, ev, deck.Args{Text: ev.Payload})

	case modality.KindOverride:
		return e.overrideCommand(ev)

	default:
		return nil
	}
}

func (e *Engine) command(ct deck.CommandType, ev *modality.Event, args deck.Args) *deck.Command {
	cmd := deck.NewCommand(ct, ev.Source, ev.ID)
	cmd.Args = args
	cmd.IssuedAt = ev.Time
	return cmd
}

// gestureCommand maps classifier gesture names to commands. Swipe direction
// follows presentation convention: swiping left pages back.
func gestureCommand(name string) (deck.CommandType, bool) {
	switch name {
	case "next", "fast_swipe_down", "swipe_right", "swipe-right":
		return deck.CommandNextSlide, true
	case "previous", "fast_swipe_up", "swipe_left", "swipe-left":
		return deck.CommandPrevSlide, true
	default:
		return deck.CommandUnknown, false
	}
}

// overridePayload is the manual command frame a browser client submits.
type overridePayload struct {
	Command string `json:"command"`
	Slide   int    `json:"slide,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Object  string `json:"object,omitempty"`
}

func (e *Engine) overrideCommand(ev *modality.Event) *deck.Command {
	var p overridePayload
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
		slog.Warn("malformed override", "error", err)
		return nil
	}
	var ct deck.CommandType
	if err := ct.UnmarshalJSON([]byte(`"` + p.Command + `"`)); err != nil || ct == deck.CommandUnknown {
		slog.Warn("unknown override command", "command", p.Command)
		return nil
	}
	return e.command(ct, ev, deck.Args{Slide: p.Slide, Prompt: p.Prompt, Object: p.Object})
}

// health reports the channel health for a source. Manual overrides have no
// adapter; an explicit UI action is always live.
func (e *Engine) health(src modality.Source) modality.Health {
	if a, ok := e.adapters[src]; ok {
		return a.Health()
	}
	return modality.Health{Source: src, Status: modality.StatusUp}
}
