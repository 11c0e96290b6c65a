// Package dispatch applies the fused command stream to the session state and
// the PDF presenter. The dispatcher is the single writer of the presentation
// state: commands are applied strictly in order, each presenter action waits
// for its acknowledgement, and a failed action rolls the state back to its
// pre-command image before the next command is considered.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/deckd/deckd/pkg/deck"
	"github.com/deckd/deckd/pkg/journal"
	"github.com/deckd/deckd/pkg/modality"
	"github.com/deckd/deckd/pkg/presenter"
)

const (
	// DefaultQueryTimeout bounds how long a question may stay pending
	// before it expires and navigation unlocks.
	DefaultQueryTimeout = 30 * time.Second

	// maxRetries is how many times a retryable presenter failure is
	// retried before the command is rolled back.
	maxRetries = 2
)

// Broadcaster pushes state changes and notices to connected UI clients.
type Broadcaster interface {
	// BroadcastDelta fans a state delta out to all clients.
	BroadcastDelta(d *deck.Delta)

	// BroadcastNote fans an informational notice out to all clients.
	BroadcastNote(kind, text string)
}

// Asker submits questions to the vision-language model. Answers come back
// through the fused command stream.
type Asker interface {
	Ask(ctx context.Context, queryID, prompt, imageURL string)
	Cancel(queryID string)
}

// Config tunes the dispatcher.
type Config struct {
	// QueryTimeout bounds how long a model query may stay pending.
	QueryTimeout time.Duration

	// Broadcast receives deltas and notices. May be nil.
	Broadcast Broadcaster

	// Asker receives ask_model prompts. May be nil, in which case
	// questions expire unanswered.
	Asker Asker

	// Journal records every command outcome. May be nil.
	Journal *journal.Journal

	// DeckPath is the local PDF the presenter should load on open.
	// Empty means the presenter keeps whatever it has loaded.
	DeckPath string
}

func (c *Config) queryTimeout() time.Duration {
	if c.QueryTimeout > 0 {
		return c.QueryTimeout
	}
	return DefaultQueryTimeout
}

// Dispatcher owns the presentation state and serializes all mutations.
type Dispatcher struct {
	cfg     Config
	control presenter.Control

	mu    sync.RWMutex
	state deck.State

	// internal carries commands the dispatcher issues to itself, such as
	// query expiry. They join the same serialized loop.
	internal chan *deck.Command

	qmu        sync.Mutex
	queryTimer *time.Timer
}

// New creates a dispatcher over the given presenter control connection.
func New(control presenter.Control, cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		control:  control,
		internal: make(chan *deck.Command, 4),
	}
}

// Snapshot returns a copy of the current state.
func (d *Dispatcher) Snapshot() deck.State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Mode reports the current session mode. The fusion engine uses it to
// suppress navigation while a question is pending.
func (d *Dispatcher) Mode() deck.Mode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.Mode
}

// Recover seeds the state from the presenter's authoritative page state.
// Called once at startup so a restart resumes mid-deck.
func (d *Dispatcher) Recover(ctx context.Context) error {
	ack, err := d.control.Current(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.state.SlideCount = ack.PageCount
	d.state.Slide = ack.CurrentPage
	if ack.PageCount > 0 {
		d.state.Mode = deck.ModePresenting
	}
	d.mu.Unlock()
	slog.Info("state recovered from presenter",
		"slide", ack.CurrentPage, "count", ack.PageCount)
	return nil
}

// Run consumes commands until the channel closes or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, commands <-chan *deck.Command) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-d.internal:
			d.dispatch(ctx, cmd)
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			d.dispatch(ctx, cmd)
		}
	}
}

// dispatch runs one command through validate, act, commit.
func (d *Dispatcher) dispatch(ctx context.Context, cmd *deck.Command) {
	d.mu.Lock()
	before := d.state
	delta, err := d.state.Apply(cmd)
	d.mu.Unlock()

	if err != nil {
		if errors.Is(err, deck.ErrRejected) {
			slog.Info("command rejected", "type", cmd.Type, "id", cmd.ID, "reason", err)
			d.record(ctx, cmd, before.Version, journal.OutcomeRejected, err.Error())
			d.note("rejected", err.Error())
			return
		}
		slog.Error("command apply failed", "type", cmd.Type, "id", cmd.ID, "error", err)
		d.record(ctx, cmd, before.Version, journal.OutcomeFailed, err.Error())
		return
	}

	if action, ok := presenter.ActionFor(cmd.Type); ok {
		ack, err := d.applyWithRetry(ctx, action, d.paramsFor(cmd))
		if err != nil {
			// The presenter did not take the action; the state must
			// not claim it happened.
			d.mu.Lock()
			d.state = before
			d.mu.Unlock()
			slog.Warn("presenter rejected command, state rolled back",
				"type", cmd.Type, "id", cmd.ID, "error", err)
			d.record(ctx, cmd, before.Version, journal.OutcomeFailed, err.Error())
			d.note("dispatch_failed", err.Error())
			return
		}
		d.reconcile(ack, delta)
	}

	d.postApply(ctx, cmd, before.PendingQueryID)

	outcome := journal.OutcomeApplied
	if cmd.Type == deck.CommandExpireQuery {
		outcome = journal.OutcomeExpired
	}
	d.record(ctx, cmd, delta.Version, outcome, "")
	if d.cfg.Broadcast != nil {
		d.cfg.Broadcast.BroadcastDelta(delta)
	}
}

// applyWithRetry sends one presenter action, retrying transient failures.
func (d *Dispatcher) applyWithRetry(ctx context.Context, action string, params map[string]any) (*presenter.Ack, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		ack, err := d.control.Apply(ctx, action, params)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		pe, ok := presenter.AsError(err)
		if !ok || !pe.Retryable() {
			return nil, err
		}
		slog.Warn("presenter action retrying", "action", action, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// reconcile folds the presenter's authoritative page state into ours. The
// presenter can land on a different page than predicted, for example when a
// jump was clamped by a stale page count.
func (d *Dispatcher) reconcile(ack *presenter.Ack, delta *deck.Delta) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ack.PageCount > 0 && ack.PageCount != d.state.SlideCount {
		d.state.SlideCount = ack.PageCount
		count := ack.PageCount
		delta.Count = &count
	}
	if ack.CurrentPage != d.state.Slide {
		slog.Debug("slide corrected from ack",
			"predicted", d.state.Slide, "actual", ack.CurrentPage)
		d.state.Slide = ack.CurrentPage
		page := ack.CurrentPage
		delta.Slide = &page
	}
}

// postApply runs the side effects of mode-changing commands: starting and
// stopping the query timer and driving the model client. pendingID is the
// query that was outstanding before the command was applied.
func (d *Dispatcher) postApply(ctx context.Context, cmd *deck.Command, pendingID string) {
	switch cmd.Type {
	case deck.CommandAskModel:
		d.armQueryTimer(cmd.ID)
		if d.cfg.Asker != nil {
			d.cfg.Asker.Ask(ctx, cmd.ID, cmd.Args.Prompt, "")
		}

	case deck.CommandAnswer:
		d.disarmQueryTimer()

	case deck.CommandCancelQuery, deck.CommandExpireQuery:
		d.disarmQueryTimer()
		if d.cfg.Asker != nil && pendingID != "" {
			d.cfg.Asker.Cancel(pendingID)
		}
		if cmd.Type == deck.CommandExpireQuery {
			d.note("query_expired", "no answer within the timeout")
		}
	}
}

// armQueryTimer schedules expiry of the pending query. The expire command
// goes through the internal channel so it is serialized with everything else.
func (d *Dispatcher) armQueryTimer(id string) {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if d.queryTimer != nil {
		d.queryTimer.Stop()
	}
	d.queryTimer = time.AfterFunc(d.cfg.queryTimeout(), func() {
		expire := deck.NewCommand(deck.CommandExpireQuery, modality.SourceUnknown, id)
		select {
		case d.internal <- expire:
		default:
			slog.Warn("internal queue full, expiry dropped", "query_id", id)
		}
	})
}

func (d *Dispatcher) disarmQueryTimer() {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if d.queryTimer != nil {
		d.queryTimer.Stop()
		d.queryTimer = nil
	}
}

func (d *Dispatcher) paramsFor(cmd *deck.Command) map[string]any {
	switch cmd.Type {
	case deck.CommandOpen:
		if d.cfg.DeckPath != "" {
			return map[string]any{"file": d.cfg.DeckPath}
		}
		return nil
	case deck.CommandJumpTo:
		return map[string]any{"slide": cmd.Args.Slide}
	case deck.CommandAnnotate:
		return map[string]any{"object": cmd.Args.Object}
	default:
		return nil
	}
}

func (d *Dispatcher) record(ctx context.Context, cmd *deck.Command, version uint64, outcome, detail string) {
	if d.cfg.Journal == nil {
		return
	}
	if err := d.cfg.Journal.Append(ctx, cmd, version, outcome, detail); err != nil {
		slog.Warn("journal append failed", "command_id", cmd.ID, "error", err)
	}
}

func (d *Dispatcher) note(kind, text string) {
	if d.cfg.Broadcast != nil {
		d.cfg.Broadcast.BroadcastNote(kind, text)
	}
}
