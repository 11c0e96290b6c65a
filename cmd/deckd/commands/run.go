package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deckd/deckd/cmd/deckd/internal/config"
	"github.com/deckd/deckd/pkg/launch"
	"github.com/deckd/deckd/pkg/session"
)

var runFlags struct {
	deck     string
	dataDir  string
	noWait   bool
	noOpen   bool
	noSpawn  bool
	uiAddr   string
	audioURL string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an orchestration session",
	Long: `Run starts one presentation session: it connects to the perception
servers and the PDF presenter, serves the browser UI, and keeps going
until interrupted. Perception servers may come and go; the session
degrades and recovers with them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runSession(ctx, cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.deck, "deck", "", "deck reference (path, s3:// or https:// URL)")
	runCmd.Flags().StringVar(&runFlags.dataDir, "data-dir", "", "journal directory (default: config, else in-memory)")
	runCmd.Flags().StringVar(&runFlags.uiAddr, "ui-addr", "", "browser sync listen address")
	runCmd.Flags().StringVar(&runFlags.audioURL, "audio-url", "", "speech-to-text server URL")
	runCmd.Flags().BoolVar(&runFlags.noWait, "no-wait", false, "do not wait for servers at startup")
	runCmd.Flags().BoolVar(&runFlags.noOpen, "no-open", false, "do not open the browser UI")
	runCmd.Flags().BoolVar(&runFlags.noSpawn, "no-spawn", false, "do not spawn configured servers")
	rootCmd.AddCommand(runCmd)
}

func runSession(ctx context.Context, cfg *config.Config) error {
	// Flags win over the config file.
	if runFlags.deck != "" {
		cfg.Deck = runFlags.deck
	}
	if runFlags.dataDir != "" {
		cfg.DataDir = runFlags.dataDir
	}
	if runFlags.uiAddr != "" {
		cfg.UIAddr = runFlags.uiAddr
	}
	if runFlags.audioURL != "" {
		cfg.AudioURL = runFlags.audioURL
	}

	scfg, err := sessionConfig(cfg)
	if err != nil {
		return err
	}

	if cfg.Deck != "" {
		cacheDir := cfg.DataDir
		if cacheDir == "" {
			cacheDir = filepath.Join(os.TempDir(), "deckd-decks")
		}
		path, err := launch.ResolveDeck(ctx, cfg.Deck, cacheDir)
		if err != nil {
			return fmt.Errorf("resolve deck %s: %w", cfg.Deck, err)
		}
		slog.Info("deck resolved", "ref", cfg.Deck, "path", path)
		scfg.DeckPath = path
	}

	if len(cfg.Servers) > 0 && !runFlags.noSpawn {
		group, err := launch.StartAll(ctx, launchServers(cfg.Servers))
		if err != nil {
			return err
		}
		defer group.Stop()
	}

	if !runFlags.noWait {
		addrs := hostPorts(cfg.PresenterURL, cfg.AudioURL, cfg.GestureURL, cfg.VLMBaseURL)
		// Startup order is not guaranteed; report but keep going, the
		// adapters reconnect on their own.
		if err := launch.WaitAll(ctx, 10*time.Second, addrs...); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("continuing without all servers", "error", err)
		}
	}

	sess, err := session.New(scfg)
	if err != nil {
		return err
	}

	if !runFlags.noOpen {
		launch.OpenBrowser("http://127.0.0.1" + cfg.UIAddr + "/")
	}

	if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func sessionConfig(cfg *config.Config) (session.Config, error) {
	scfg := session.Config{
		AudioURL:       cfg.AudioURL,
		GestureURL:     cfg.GestureURL,
		VLMBaseURL:     cfg.VLMBaseURL,
		VLMModel:       cfg.VLMModel,
		PresenterURL:   cfg.PresenterURL,
		UIAddr:         cfg.UIAddr,
		DataDir:        cfg.DataDir,
		BaseConfidence: cfg.Fusion.BaseConfidence,
	}
	var err error
	if scfg.Window, err = config.ParseDuration("fusion.window", cfg.Fusion.Window); err != nil {
		return scfg, err
	}
	if scfg.Cooldown, err = config.ParseDuration("fusion.cooldown", cfg.Fusion.Cooldown); err != nil {
		return scfg, err
	}
	if scfg.AckTimeout, err = config.ParseDuration("dispatch.ack_timeout", cfg.Dispatch.AckTimeout); err != nil {
		return scfg, err
	}
	if scfg.QueryTimeout, err = config.ParseDuration("dispatch.query_timeout", cfg.Dispatch.QueryTimeout); err != nil {
		return scfg, err
	}
	return scfg, nil
}

func launchServers(servers []config.Server) []launch.Server {
	out := make([]launch.Server, len(servers))
	for i, s := range servers {
		out[i] = launch.Server{Name: s.Name, Command: s.Command, Dir: s.Dir}
	}
	return out
}

// hostPorts extracts the dialable host:port of each URL, skipping ones that
// do not parse.
func hostPorts(urls ...string) []string {
	var out []string
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		host := u.Host
		if u.Port() == "" {
			switch u.Scheme {
			case "http", "ws":
				host += ":80"
			case "https", "wss":
				host += ":443"
			}
		}
		out = append(out, host)
	}
	return out
}
