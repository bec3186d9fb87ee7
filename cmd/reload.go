package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Ask the daemon to reload its configuration file.

Logging, the metrics interval and the declared entries take effect at once;
the engine is reset and all declared and persisted entries are replayed.
Changes to other sections are reported and need a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.Context(), newClient(), cmd.OutOrStdout())
	},
}

func runReload(ctx context.Context, client Client, out io.Writer) error {
	res, err := client.ConfigReload(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")
	fmt.Fprintf(out, "  replayed %d stream(s), %d collection(s)\n", res.Streams, res.Collections)
	for _, s := range res.Skipped {
		fmt.Fprintf(out, "  skipped: %s\n", s)
	}
	if len(res.RequiresRestart) > 0 {
		fmt.Fprintf(out, "  restart required for: %s\n", strings.Join(res.RequiresRestart, ", "))
	}
	return nil
}
