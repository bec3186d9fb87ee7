// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/tsnstream/internal/command"
)

var (
	// Global flags
	configFile   string
	socketPath   string
	outputFormat string
	callTimeout  time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tsnstream",
	Short: "tsnstream - TSN stream identification daemon",
	Long: `tsnstream installs the switch rules that classify ingress frames into TSN
streams and stream collections, and binds them to PSFP and FRER flow contexts.

Streams and collections are declared in the configuration file or in the
persisted store; the daemon replays them on start-up and on reload. The CLI
talks to a running daemon over a Unix Domain Socket.`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/tsnstream/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/tsnstream.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatTable,
		"output format: table, yaml or json")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 10*time.Second,
		"control channel timeout")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(capabilitiesCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(collectionCmd)
	rootCmd.AddCommand(countersCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(storeCmd)
}
