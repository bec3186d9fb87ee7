package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/tsnstream/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the tsnstream daemon",
	Long: `Stop the tsnstream daemon gracefully.

This command sends daemon_shutdown over the Unix Domain Socket. When the
socket does not answer and --pidfile is given, SIGTERM is sent to the
recorded process instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), newClient(), cmd.OutOrStdout(), stopPIDFile)
	},
}

var stopPIDFile string

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "",
		"PID file to signal when the socket is unreachable")
}

func runStop(ctx context.Context, client Client, out io.Writer, pidFile string) error {
	err := client.Shutdown(ctx)
	if err == nil {
		fmt.Fprintln(out, "✓ Daemon is shutting down")
		return nil
	}
	if pidFile == "" {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	fmt.Fprintf(out, "socket unreachable (%v), signalling pid file %s\n", err, pidFile)
	if err := daemon.StopDaemon(pidFile, 10*time.Second); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintln(out, "✓ Daemon stopped")
	return nil
}
