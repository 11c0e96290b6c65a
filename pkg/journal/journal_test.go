package journal

import (
	"context"
	"testing"

	"github.com/deckd/deckd/pkg/deck"
	"github.com/deckd/deckd/pkg/kv"
	"github.com/deckd/deckd/pkg/modality"
)

func TestAppendAndRecords(t *testing.T) {
	store := kv.NewMemory()
	defer store.Close()
	ctx := context.Background()
	j := New(store, "s1")

	cmds := []*deck.Command{
		deck.NewCommand(deck.CommandOpen, modality.SourceUI),
		deck.NewCommand(deck.CommandNextSlide, modality.SourceGesture),
		deck.NewCommand(deck.CommandNextSlide, modality.SourceAudio),
	}
	outcomes := []string{OutcomeApplied, OutcomeApplied, OutcomeRejected}
	for i, cmd := range cmds {
		detail := ""
		if outcomes[i] == OutcomeRejected {
			detail = "already at last slide"
		}
		if err := j.Append(ctx, cmd, uint64(i+1), outcomes[i], detail); err != nil {
			t.Fatal(err)
		}
	}

	var got []*Record
	for rec, err := range j.Records(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, rec)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d", len(got))
	}
	for i, rec := range got {
		if rec.Seq != uint64(i+1) {
			t.Fatalf("record %d seq = %d", i, rec.Seq)
		}
		if rec.Outcome != outcomes[i] {
			t.Fatalf("record %d outcome = %s", i, rec.Outcome)
		}
		if rec.Type != cmds[i].Type.String() {
			t.Fatalf("record %d type = %s", i, rec.Type)
		}
	}
	if got[2].Detail != "already at last slide" {
		t.Fatalf("detail = %q", got[2].Detail)
	}
	if len(got[0].Command) == 0 {
		t.Fatal("command payload missing")
	}
}

func TestRecordsOrderSurvivesManyAppends(t *testing.T) {
	store := kv.NewMemory()
	defer store.Close()
	ctx := context.Background()
	j := New(store, "s1")

	// Enough entries that lexicographic and numeric order would diverge
	// without zero padding.
	for i := 0; i < 120; i++ {
		cmd := deck.NewCommand(deck.CommandNextSlide, modality.SourceGesture)
		if err := j.Append(ctx, cmd, uint64(i+1), OutcomeApplied, ""); err != nil {
			t.Fatal(err)
		}
	}

	var prev uint64
	for rec, err := range j.Records(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		if rec.Seq != prev+1 {
			t.Fatalf("seq %d after %d", rec.Seq, prev)
		}
		prev = rec.Seq
	}
	if prev != 120 {
		t.Fatalf("last seq = %d", prev)
	}
}

func TestSessionsListsDistinctIDs(t *testing.T) {
	store := kv.NewMemory()
	defer store.Close()
	ctx := context.Background()

	for _, id := range []string{"alpha", "beta"} {
		j := New(store, id)
		for i := 0; i < 2; i++ {
			cmd := deck.NewCommand(deck.CommandNextSlide, modality.SourceGesture)
			if err := j.Append(ctx, cmd, 1, OutcomeApplied, ""); err != nil {
				t.Fatal(err)
			}
		}
	}

	ids, err := Sessions(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("sessions = %v", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["alpha"] || !seen["beta"] {
		t.Fatalf("sessions = %v", ids)
	}
}

func TestRecordsOfUnknownSessionEmpty(t *testing.T) {
	store := kv.NewMemory()
	defer store.Close()
	for range Records(context.Background(), store, "nope") {
		t.Fatal("expected no records")
	}
}
