package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/tsnstream/internal/command"
	"firestige.xyz/tsnstream/internal/stream"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dump engine internals",
	Long: `Dump per-stream rules, flows and statistics, or the change counters.

Without ids every stream is included.`,
}

var debugRulesCmd = &cobra.Command{
	Use:   "rules [id...]",
	Short: "Show the rule installed for each stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return runDebugRules(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat, ids)
	},
}

var debugFlowsCmd = &cobra.Command{
	Use:   "flows [id...]",
	Short: "Show the flow context used by each stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return runDebugFlows(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat, ids)
	},
}

var debugStatisticsCmd = &cobra.Command{
	Use:   "statistics [id...]",
	Short: "Show the counters of each stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return runDebugStatistics(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat, ids)
	},
}

var debugNotificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Show the change counters of streams and collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDebugNotifications(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat)
	},
}

func init() {
	debugCmd.AddCommand(debugRulesCmd, debugFlowsCmd, debugStatisticsCmd, debugNotificationsCmd)
}

func parseIDs(args []string) ([]uint32, error) {
	ids := make([]uint32, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runDebugRules(ctx context.Context, client Client, out io.Writer, format string, ids []uint32) error {
	var rows []stream.RuleRow
	if err := client.CallInto(ctx, command.MethodDebugRules, command.IDsParams{IDs: ids}, &rows); err != nil {
		return fmt.Errorf("debug_rules failed: %w", err)
	}
	return render(out, format, rows, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "STREAM\tCOLLECTION\tRULE\tPSFP\tFRER\tFLOW\tVID\tPOP\tPROTOCOL\tPORTS")
		for _, r := range rows {
			rule := "-"
			if r.Installed {
				rule = fmt.Sprint(r.RuleID)
			}
			psfp, frer := "-", "-"
			if r.PSFPEnable {
				psfp = fmt.Sprint(r.PSFPClientID)
			}
			if r.FREREnable {
				frer = fmt.Sprint(r.FRERClientID)
			}
			pop := "-"
			if r.PopEnable {
				pop = fmt.Sprint(r.PopCount)
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
				r.StreamID, r.CollectionID, rule, psfp, frer, r.FlowID, r.VID, pop, r.Protocol, dash(r.Ports))
		}
	})
}

func runDebugFlows(ctx context.Context, client Client, out io.Writer, format string, ids []uint32) error {
	var rows []stream.FlowRow
	if err := client.CallInto(ctx, command.MethodDebugFlows, command.IDsParams{IDs: ids}, &rows); err != nil {
		return fmt.Errorf("debug_flows failed: %w", err)
	}
	// Flow confs are nested, so the table only lists the bindings.
	return render(out, format, rows, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "STREAM\tCOLLECTION\tFLOW\tCOUNTER")
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", r.StreamID, r.CollectionID, r.FlowID, r.CounterID)
		}
	})
}

func runDebugStatistics(ctx context.Context, client Client, out io.Writer, format string, ids []uint32) error {
	var rows []stream.StatisticsRow
	if err := client.CallInto(ctx, command.MethodDebugStatistics, command.IDsParams{IDs: ids}, &rows); err != nil {
		return fmt.Errorf("debug_statistics failed: %w", err)
	}
	return render(out, format, rows, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "STREAM\tCOLLECTION\tMATCH\tGREEN\tYELLOW\tRED\tDISCARD\tERROR")
		for _, r := range rows {
			if r.Counters == nil {
				fmt.Fprintf(w, "%d\t%d\t-\t-\t-\t-\t-\t%s\n", r.StreamID, r.CollectionID, dash(r.Error))
				continue
			}
			c := r.Counters
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t-\n", r.StreamID, r.CollectionID,
				c.RxMatch, c.RxGreen.Frames, c.RxYellow.Frames, c.RxRed.Frames, c.RxDiscard.Frames)
		}
	})
}

func runDebugNotifications(ctx context.Context, client Client, out io.Writer, format string) error {
	var tables stream.NotificationTables
	if err := client.CallInto(ctx, command.MethodNotifications, nil, &tables); err != nil {
		return fmt.Errorf("notifications failed: %w", err)
	}
	return render(out, format, tables, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "OBJECT\tID\tCHANGES")
		sids := make([]int, 0, len(tables.Streams))
		for id := range tables.Streams {
			sids = append(sids, int(id))
		}
		sort.Ints(sids)
		for _, id := range sids {
			fmt.Fprintf(w, "stream\t%d\t%d\n", id, tables.Streams[stream.ID(id)])
		}
		cids := make([]int, 0, len(tables.Collections))
		for id := range tables.Collections {
			cids = append(cids, int(id))
		}
		sort.Ints(cids)
		for _, id := range cids {
			fmt.Fprintf(w, "collection\t%d\t%d\n", id, tables.Collections[stream.CollectionID(id)])
		}
	})
}
