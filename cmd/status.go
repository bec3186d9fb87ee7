package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/tsnstream/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the tsnstream daemon for its overall status.

Shows: version, node, uptime, stream and collection counts, switch resource
usage and event bus counters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat)
	},
}

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show engine limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapabilities(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat)
	},
}

func runStatus(ctx context.Context, client Client, out io.Writer, format string) error {
	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("daemon is not running or socket is inaccessible: %w", err)
	}

	return render(out, format, st, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "version:\t%s\n", st.Version)
		fmt.Fprintf(w, "node:\t%s\n", st.Node)
		fmt.Fprintf(w, "pid:\t%d\n", st.PID)
		fmt.Fprintf(w, "uptime:\t%s\n", time.Duration(st.UptimeSec)*time.Second)
		fmt.Fprintf(w, "streams:\t%d (%d in collections, %d with warnings)\n",
			st.Engine.Streams, st.Engine.StreamsInCollections, st.Engine.StreamsWithWarnings)
		fmt.Fprintf(w, "collections:\t%d\n", st.Engine.Collections)
		fmt.Fprintf(w, "rules installed:\t%d\n", st.Engine.RulesInstalled)
		fmt.Fprintf(w, "flows / counters:\t%d / %d\n", st.Engine.Flows, st.Engine.Counters)
		if u := st.Engine.Usage; u != nil {
			fmt.Fprintf(w, "hal flows:\t%d/%d\n", u.FlowsInUse, u.FlowCapacity)
			fmt.Fprintf(w, "hal counters:\t%d/%d\n", u.CountersInUse, u.CounterCapacity)
			fmt.Fprintf(w, "hal rules:\t%d/%d\n", u.Rules, u.RuleCapacity)
		}
		if b := st.EventBus; b != nil {
			fmt.Fprintf(w, "notifications:\t%d published, %d dropped, %d failed\n",
				b.PublishedCount, b.DroppedCount, b.FailedCount)
		}
	})
}

func runCapabilities(ctx context.Context, client Client, out io.Writer, format string) error {
	var caps map[string]uint32
	if err := client.CallInto(ctx, command.MethodCapabilities, nil, &caps); err != nil {
		return fmt.Errorf("failed to query capabilities: %w", err)
	}
	return render(out, format, caps, nil)
}
