// Command devtoolkit hosts the DevToolkit pages in a terminal. Every page
// keeps its state in a per-profile local database and, once signed in,
// mirrors it to the account on the sync server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devtoolkit/internal/config"
	"devtoolkit/internal/logging"
)

var (
	// Global flags
	verbose   bool
	serverURL string
	profile   string

	cfg    *config.ClientConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "devtoolkit",
	Short: "DevToolkit pages from the command line",
	Long: `devtoolkit browses the developer tool catalog, tracks a learning roadmap
and a career checklist, and keeps favorites. Signed-in progress syncs to the
account on the DevToolkit server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadClient()
		if err != nil {
			return err
		}
		if serverURL != "" {
			c.ServerURL = serverURL
		}
		if profile != "" {
			c.Profile = profile
		}
		if verbose {
			c.LogLevel = "debug"
		}
		cfg = c

		logger, err = logging.New(cfg.Env, cfg.LogLevel)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Sync server URL (overrides DEVTOOLKIT_SERVER_URL)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Local profile name (overrides DEVTOOLKIT_PROFILE)")

	rootCmd.AddCommand(authCmd, learnCmd, careersCmd, toolsCmd, favoritesCmd, accountCmd, contactCmd, suggestCmd, syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
