package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "livetree",
		Short: "Server-side reactive UI sessions",
		Long: `livetree keeps a tree of UI components on the server and keeps
it in sync with the browser over plain HTTP or a websocket.

Configuration is read from --config (YAML) and LIVETREE_ environment
variables, for example LIVETREE_TOKEN_SECRET.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	cmd.AddCommand(
		serveCmd(&configPath),
		tokenCmd(&configPath),
		versionCmd(),
	)
	return cmd
}
