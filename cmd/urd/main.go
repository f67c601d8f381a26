// urd is a login gateway for Ragnarok Online style clients. It
// authenticates LoginRequests, answers with the character server list and
// exposes an admin API, Prometheus metrics and MQTT telemetry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/urd-project/urd/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configDir string

func main() {
	rootCmd := &cobra.Command{
		Use:   "urd",
		Short: "Login gateway for Ragnarok Online clients",
		Long: `urd accepts client TCP connections, authenticates login requests
against an account store and replies with the list of character servers.

Commands:
  serve      Run the gateway
  accounts   Manage the account database
  loginlog   Show recent login attempts
  sessions   List sessions of a running gateway
  config     Inspect and validate the configuration
  version    Print version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "config", config.DefaultConfigDir, "Configuration directory")

	rootCmd.AddCommand(
		serveCmd(),
		accountsCmd(),
		loginLogCmd(),
		sessionsCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
