package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/tsnstream/internal/hal"
)

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Read or clear ingress counters",
	Long: `Read or clear the ingress counters of a stream or a collection.

A stream that belongs to a collection shares the collection's counters.`,
}

var countersGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show the counters of a stream or collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runCountersGet(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat, id, countersCollection)
	},
}

var countersClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Clear the counters of a stream or collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := newClient().CountersClear(cmd.Context(), id, countersCollection); err != nil {
			return fmt.Errorf("counters_clear %d failed: %w", id, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Counters cleared")
		return nil
	},
}

var countersCollection bool

func init() {
	countersCmd.PersistentFlags().BoolVar(&countersCollection, "collection", false,
		"the id names a collection")
	countersCmd.AddCommand(countersGetCmd, countersClearCmd)
}

func runCountersGet(ctx context.Context, client Client, out io.Writer, format string, id uint32, collection bool) error {
	c, err := client.CountersGet(ctx, id, collection)
	if err != nil {
		return fmt.Errorf("counters_get %d failed: %w", id, err)
	}
	return render(out, format, c, func(w *tabwriter.Writer) {
		writeCounters(w, c)
	})
}

func writeCounters(w io.Writer, c *hal.IngressCounters) {
	fmt.Fprintln(w, "COUNTER\tFRAMES\tBYTES")
	for _, row := range []struct {
		name string
		fc   hal.FrameCount
	}{
		{"rx_green", c.RxGreen},
		{"rx_yellow", c.RxYellow},
		{"rx_red", c.RxRed},
		{"rx_discard", c.RxDiscard},
		{"tx_discard", c.TxDiscard},
	} {
		fmt.Fprintf(w, "%s\t%d\t%d\n", row.name, row.fc.Frames, row.fc.Bytes)
	}
	for _, row := range []struct {
		name string
		n    uint64
	}{
		{"rx_match", c.RxMatch},
		{"rx_gate_pass", c.RxGatePass},
		{"rx_gate_discard", c.RxGateDiscard},
		{"rx_sdu_pass", c.RxSDUPass},
		{"rx_sdu_discard", c.RxSDUDiscard},
	} {
		fmt.Fprintf(w, "%s\t%d\t-\n", row.name, row.n)
	}
}
