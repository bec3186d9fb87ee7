package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/tsnstream/internal/stream"
)

// streamCmd represents the stream command group
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Inspect streams",
	Long: `Inspect the streams configured on the daemon.

Subcommands:
  list    - List streams with their collection and clients
  get     - Show the configuration of a stream
  status  - Show the operational status of a stream`,
}

var streamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStreamList(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat)
	},
}

var streamGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show the configuration of a stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runStreamGet(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat, id)
	},
}

var streamStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the operational status of a stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runStreamStatus(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat, id)
	},
}

// collectionCmd represents the collection command group
var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Inspect stream collections",
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCollectionList(cmd.Context(), newClient(), cmd.OutOrStdout(), outputFormat)
	},
}

var collectionGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show the member streams of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		res, err := newClient().CollectionGet(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("collection_get %d failed: %w", id, err)
		}
		return render(cmd.OutOrStdout(), outputFormat, res, nil)
	},
}

var collectionStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the operational status of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		raw, err := newClient().CollectionStatus(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("collection_status %d failed: %w", id, err)
		}
		return render(cmd.OutOrStdout(), outputFormat, raw, nil)
	},
}

func init() {
	streamCmd.AddCommand(streamListCmd, streamGetCmd, streamStatusCmd)
	collectionCmd.AddCommand(collectionListCmd, collectionGetCmd, collectionStatusCmd)
}

// statusView decodes the status documents of the control channel.
type statusView struct {
	CollectionID uint32              `json:"collection_id"`
	OperWarnings []string            `json:"oper_warnings"`
	ClientStatus stream.ClientStatus `json:"client_status"`
}

func parseID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return uint32(n), nil
}

func clientCell(a stream.Action) string {
	if !a.Enable {
		return "-"
	}
	return strconv.FormatUint(uint64(a.ClientID), 10)
}

func runStreamList(ctx context.Context, client Client, out io.Writer, format string) error {
	ids, err := client.StreamList(ctx)
	if err != nil {
		return fmt.Errorf("stream_list failed: %w", err)
	}

	views := make(map[stream.ID]statusView, len(ids))
	for _, id := range ids {
		raw, err := client.StreamStatus(ctx, uint32(id))
		if err != nil {
			return fmt.Errorf("stream_status %d failed: %w", id, err)
		}
		var v statusView
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid stream_status %d: %w", id, err)
		}
		views[id] = v
	}

	return render(out, format, map[string]any{"ids": ids}, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tCOLLECTION\tPSFP\tFRER\tWARNINGS")
		for _, id := range ids {
			v := views[id]
			col := "-"
			if v.CollectionID != 0 {
				col = strconv.FormatUint(uint64(v.CollectionID), 10)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", id, col,
				clientCell(v.ClientStatus.PSFP), clientCell(v.ClientStatus.FRER),
				dash(strings.Join(v.OperWarnings, ",")))
		}
	})
}

func runStreamGet(ctx context.Context, client Client, out io.Writer, format string, id uint32) error {
	res, err := client.StreamGet(ctx, id)
	if err != nil {
		return fmt.Errorf("stream_get %d failed: %w", id, err)
	}
	if format == formatTable {
		format = formatYAML
	}
	return render(out, format, res, nil)
}

func runStreamStatus(ctx context.Context, client Client, out io.Writer, format string, id uint32) error {
	raw, err := client.StreamStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("stream_status %d failed: %w", id, err)
	}
	var v statusView
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("invalid stream_status %d: %w", id, err)
	}
	return render(out, format, raw, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "stream:\t%d\n", id)
		fmt.Fprintf(w, "collection:\t%d\n", v.CollectionID)
		fmt.Fprintf(w, "psfp:\t%s (client %d)\n", onOff(v.ClientStatus.PSFP.Enable), v.ClientStatus.PSFP.ClientID)
		fmt.Fprintf(w, "frer:\t%s (client %d)\n", onOff(v.ClientStatus.FRER.Enable), v.ClientStatus.FRER.ClientID)
		fmt.Fprintf(w, "warnings:\t%s\n", dash(strings.Join(v.OperWarnings, ",")))
	})
}

func runCollectionList(ctx context.Context, client Client, out io.Writer, format string) error {
	ids, err := client.CollectionList(ctx)
	if err != nil {
		return fmt.Errorf("collection_list failed: %w", err)
	}

	members := make(map[stream.CollectionID][]stream.ID, len(ids))
	views := make(map[stream.CollectionID]statusView, len(ids))
	for _, id := range ids {
		res, err := client.CollectionGet(ctx, uint32(id))
		if err != nil {
			return fmt.Errorf("collection_get %d failed: %w", id, err)
		}
		members[id] = res.StreamIDs
		raw, err := client.CollectionStatus(ctx, uint32(id))
		if err != nil {
			return fmt.Errorf("collection_status %d failed: %w", id, err)
		}
		var v statusView
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid collection_status %d: %w", id, err)
		}
		views[id] = v
	}

	return render(out, format, map[string]any{"ids": ids}, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tSTREAMS\tPSFP\tFRER\tWARNINGS")
		for _, id := range ids {
			v := views[id]
			parts := make([]string, len(members[id]))
			for i, s := range members[id] {
				parts[i] = strconv.FormatUint(uint64(s), 10)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", id, dash(strings.Join(parts, ",")),
				clientCell(v.ClientStatus.PSFP), clientCell(v.ClientStatus.FRER),
				dash(strings.Join(v.OperWarnings, ",")))
		}
	})
}
