package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/deckd/deckd/cmd/deckd/internal/build"
	"github.com/deckd/deckd/cmd/deckd/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(build.String())
		if IsVerbose() {
			fmt.Printf("  go:     %s\n", runtime.Version())
			if p, err := config.Path(); err == nil {
				fmt.Printf("  config: %s\n", p)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
