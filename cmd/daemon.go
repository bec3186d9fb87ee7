package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/tsnstream/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run tsnstream daemon in foreground",
	Long: `Run the tsnstream daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging, the switch backend and the stream engine
  3. Replay declared and persisted streams and collections
  4. Start metrics, the notification bus and the UDS server for CLI control
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd)
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from config)")
}

func runDaemon(cmd *cobra.Command) error {
	// The socket flag only overrides the config when given explicitly.
	sock := ""
	if cmd.Flags().Changed("socket") {
		sock = socketPath
	}

	d, err := daemon.New(configFile, sock, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Start all components
	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
