package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/deckd/deckd/pkg/journal"
	"github.com/deckd/deckd/pkg/kv"
)

var journalFlags struct {
	dataDir string
	filter  string
	asJSON  bool
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect session command journals",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournalStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ids, err := journal.Sessions(cmd.Context(), store)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("no sessions recorded")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var journalShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the command log of one session",
	Long: `Show prints every dispatched command of a session in order.

The --filter flag takes a jq expression evaluated against each record;
records for which it yields false or null are skipped.

  deckd journal show ab12... --filter '.outcome == "rejected"'
  deckd journal show ab12... --filter '.source == "gesture"'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournalStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return showJournal(cmd.Context(), store, args[0])
	},
}

func init() {
	journalCmd.PersistentFlags().StringVar(&journalFlags.dataDir, "data-dir", "", "journal directory (default: config)")
	journalShowCmd.Flags().StringVar(&journalFlags.filter, "filter", "", "jq expression to select records")
	journalShowCmd.Flags().BoolVar(&journalFlags.asJSON, "json", false, "print records as JSON lines")
	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalShowCmd)
	rootCmd.AddCommand(journalCmd)
}

func openJournalStore() (kv.Store, error) {
	dir := journalFlags.dataDir
	if dir == "" {
		cfg, err := GetConfig()
		if err != nil {
			return nil, err
		}
		dir = cfg.DataDir
	}
	if dir == "" {
		return nil, fmt.Errorf("no journal directory; set data_dir in the config or pass --data-dir")
	}
	return kv.NewBadger(kv.BadgerOptions{Dir: dir})
}

var outcomeStyles = map[string]lipgloss.Style{
	journal.OutcomeApplied:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	journal.OutcomeRejected: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	journal.OutcomeFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	journal.OutcomeExpired:  lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
	journal.OutcomeDropped:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
}

var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

func showJournal(ctx context.Context, store kv.Store, sessionID string) error {
	var query *gojq.Query
	if journalFlags.filter != "" {
		q, err := gojq.Parse(journalFlags.filter)
		if err != nil {
			return fmt.Errorf("parse filter: %w", err)
		}
		query = q
	}

	n := 0
	for rec, err := range journal.Records(ctx, store, sessionID) {
		if err != nil {
			return err
		}
		obj := recordObject(rec)
		if query != nil {
			keep, err := matchFilter(ctx, query, obj)
			if err != nil {
				return err
			}
			if !keep {
				continue
			}
		}
		n++
		if journalFlags.asJSON {
			line, err := json.Marshal(obj)
			if err != nil {
				return err
			}
			fmt.Println(string(line))
			continue
		}
		printRecord(rec)
	}
	if n == 0 {
		fmt.Println("no matching records")
	}
	return nil
}

// recordObject converts a record into the JSON-ish form gojq operates on.
func recordObject(rec *journal.Record) map[string]any {
	obj := map[string]any{
		"seq":     rec.Seq,
		"at":      time.UnixMilli(rec.AtMs).Format(time.RFC3339Nano),
		"type":    rec.Type,
		"source":  rec.Source,
		"version": rec.Version,
		"outcome": rec.Outcome,
	}
	if rec.Detail != "" {
		obj["detail"] = rec.Detail
	}
	if len(rec.Command) > 0 {
		var cmd any
		if json.Unmarshal(rec.Command, &cmd) == nil {
			obj["command"] = cmd
		}
	}
	return obj
}

func matchFilter(ctx context.Context, query *gojq.Query, obj map[string]any) (bool, error) {
	// gojq wants plain JSON types; numbers must not be uint64.
	norm, err := normalizeJSON(obj)
	if err != nil {
		return false, err
	}
	iter := query.RunWithContext(ctx, norm)
	for {
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := v.(error); isErr {
			return false, fmt.Errorf("filter: %w", err)
		}
		if v != nil && v != false {
			return true, nil
		}
	}
}

func normalizeJSON(obj map[string]any) (any, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var norm any
	if err := json.Unmarshal(data, &norm); err != nil {
		return nil, err
	}
	return norm, nil
}

func printRecord(rec *journal.Record) {
	style, ok := outcomeStyles[rec.Outcome]
	if !ok {
		style = lipgloss.NewStyle()
	}
	at := time.UnixMilli(rec.AtMs).Format("15:04:05.000")
	line := fmt.Sprintf("%6d  %s  %-9s %-12s %-10s v%d",
		rec.Seq, dimStyle.Render(at), style.Render(rec.Outcome), rec.Type, rec.Source, rec.Version)
	if rec.Detail != "" {
		line += "  " + dimStyle.Render(rec.Detail)
	}
	fmt.Println(line)
}
