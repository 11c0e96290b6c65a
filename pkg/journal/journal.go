// Package journal persists a per-session log of dispatched commands and
// their outcomes. Records are msgpack-encoded into a kv.Store, keyed by a
// zero-padded sequence number so lexicographic iteration is dispatch order.
//
// The journal is diagnostic. Presentation state is recovered from the PDF
// presenter on restart, never from the journal.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/deckd/deckd/pkg/deck"
	"github.com/deckd/deckd/pkg/kv"
)

// Outcomes of a dispatched command.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeExpired  = "expired"
	OutcomeDropped  = "dropped"
)

// Record is one journal entry.
type Record struct {
	// Seq is the dispatch order, assigned by Append.
	Seq uint64 `msgpack:"seq"`

	// AtMs is the record time in Unix milliseconds.
	AtMs int64 `msgpack:"at_ms"`

	// Type and Source identify the command without decoding it.
	Type   string `msgpack:"type"`
	Source string `msgpack:"source"`

	// Version is the state version after the command, 0 if not accepted.
	Version uint64 `msgpack:"version,omitempty"`

	// Outcome is one of the Outcome* constants.
	Outcome string `msgpack:"outcome"`

	// Detail carries the rejection or failure reason.
	Detail string `msgpack:"detail,omitempty"`

	// Command is the full command, JSON-encoded.
	Command []byte `msgpack:"command,omitempty"`
}

// Journal writes and reads the command log of one session.
type Journal struct {
	store   kv.Store
	session string
	seq     atomic.Uint64
}

// New creates a journal for the given session ID on top of store.
// The store is not closed by the journal.
func New(store kv.Store, sessionID string) *Journal {
	return &Journal{store: store, session: sessionID}
}

// Append records the outcome of one dispatched command.
func (j *Journal) Append(ctx context.Context, cmd *deck.Command, version uint64, outcome, detail string) error {
	rec := &Record{
		Seq:     j.seq.Add(1),
		AtMs:    time.Now().UnixMilli(),
		Type:    cmd.Type.String(),
		Source:  cmd.Source.String(),
		Version: version,
		Outcome: outcome,
		Detail:  detail,
	}
	if raw, err := json.Marshal(cmd); err == nil {
		rec.Command = raw
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: encode record: %w", err)
	}
	key := kv.Key{"journal", j.session, fmt.Sprintf("%012d", rec.Seq)}
	if err := j.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// Records iterates the session's records in dispatch order.
func (j *Journal) Records(ctx context.Context) iter.Seq2[*Record, error] {
	return Records(ctx, j.store, j.session)
}

// Records iterates all records of the named session in dispatch order.
func Records(ctx context.Context, store kv.Store, sessionID string) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for entry, err := range store.List(ctx, kv.Key{"journal", sessionID}) {
			if err != nil {
				yield(nil, err)
				return
			}
			var rec Record
			if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
				if !yield(nil, fmt.Errorf("journal: decode %s: %w", entry.Key, err)) {
					return
				}
				continue
			}
			if !yield(&rec, nil) {
				return
			}
		}
	}
}

// Sessions lists the session IDs present in the store, oldest key first.
func Sessions(ctx context.Context, store kv.Store) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for entry, err := range store.List(ctx, kv.Key{"journal"}) {
		if err != nil {
			return nil, err
		}
		if len(entry.Key) < 2 {
			continue
		}
		id := entry.Key[1]
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
