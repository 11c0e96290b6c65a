package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/deckd/deckd/cmd/deckd/internal/config"
)

var (
	// Global flags
	verbose bool

	// Global configuration (loaded at init time)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "deckd",
	Short: "Multimodal presentation orchestrator",
	Long: `deckd - drive a PDF presentation with voice, gestures, and a local
vision-language model.

deckd connects to the perception servers (speech-to-text, gesture
recognition, vision-language inference) and the PDF presenter, fuses
their event streams into one ordered command stream, and keeps every
connected browser in sync.

Configuration is stored in the OS config directory:
  macOS:   ~/Library/Application Support/deckd/config.yaml
  Linux:   ~/.config/deckd/config.yaml
  Windows: %AppData%/deckd/config.yaml

Examples:
  # Run a session against the default local servers
  deckd run

  # Run with a deck fetched from object storage
  deckd run --deck s3://decks/quarterly.pdf

  # Inspect what happened in a past session
  deckd journal list
  deckd journal show <session-id> --filter '.outcome == "rejected"'`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// configLoadErr stores the error from config.Load() for deferred reporting.
var configLoadErr error

func initConfig() {
	cfg, err := config.Load()
	if err != nil {
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// GetConfig returns the global configuration.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
