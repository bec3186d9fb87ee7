package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"firestige.xyz/tsnstream/internal/config"
	"firestige.xyz/tsnstream/internal/daemon"
	"firestige.xyz/tsnstream/internal/hal"
	"firestige.xyz/tsnstream/internal/stream"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without contacting the daemon.

The file is loaded with the daemon's rules, then its streams and collections
are replayed into a scratch engine on the simulated switch, so entries the
engine would reject are reported too.

Examples:
  tsnstream validate -c /etc/tsnstream/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(out, "INVALID: %v\n", err)
		return err
	}

	sw := hal.NewSim(hal.SimConfig{
		FlowCapacity:    cfg.HAL.FlowCapacity,
		CounterCapacity: cfg.HAL.CounterCapacity,
		RuleCapacity:    cfg.HAL.RuleCapacity,
	})
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := stream.New(sw, stream.WithLogger(quiet))
	if err != nil {
		return fmt.Errorf("failed to create scratch engine: %w", err)
	}

	rep := daemon.Replay(eng, cfg.Streams, cfg.Collections, quiet)
	if len(rep.Skipped) > 0 {
		fmt.Fprintf(out, "INVALID: %d entr(ies) rejected\n", len(rep.Skipped))
		for _, s := range rep.Skipped {
			fmt.Fprintf(out, "  %s\n", s)
		}
		return fmt.Errorf("%d entries rejected", len(rep.Skipped))
	}

	fmt.Fprintf(out, "VALID: node %q, %d stream(s), %d collection(s)\n",
		cfg.Node.Hostname, rep.Streams, rep.Collections)
	return nil
}
