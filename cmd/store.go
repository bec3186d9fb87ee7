package cmd

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/tsnstream/internal/config"
	"firestige.xyz/tsnstream/internal/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage persisted streams and collections",
	Long: `Manage the entry store read by the daemon on start-up and reload.

The store is edited offline; run "tsnstream reload" afterwards to apply it.
A stored entry overrides a declared entry with the same id.`,
}

var storeExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the stored entries as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		return runStoreExport(st, cmd.OutOrStdout(), outputFormat)
	},
}

var storeImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Save the entries of a YAML or JSON file into the store",
	Long: `Save the entries of a file into the store. The file holds top-level
"streams" and "collections" lists in the configuration file syntax.

Examples:
  tsnstream store import entries.yaml && tsnstream reload`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		return runStoreImport(st, args[0], cmd.OutOrStdout())
	},
}

var storeDeleteCmd = &cobra.Command{
	Use:   "delete <stream|collection> <id>",
	Short: "Remove a stored entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		return runStoreDelete(st, args[0], id, cmd.OutOrStdout())
	},
}

var storeDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show how the store changes the declared entries",
	Long: `Print a unified diff between the entries declared in the configuration
file and the set the daemon replays once stored entries are overlaid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		dir := storeDir
		if dir == "" {
			dir = cfg.Store.Dir
		}
		st, err := store.NewFileStore(dir)
		if err != nil {
			return err
		}
		return runStoreDiff(cfg, st, cmd.OutOrStdout())
	},
}

var storeDir string

func init() {
	storeCmd.PersistentFlags().StringVar(&storeDir, "dir", "",
		"store directory (default: store.dir from config)")
	storeCmd.AddCommand(storeExportCmd, storeImportCmd, storeDeleteCmd, storeDiffCmd)
}

func openStore() (store.Store, error) {
	dir := storeDir
	if dir == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		dir = cfg.Store.Dir
	}
	return store.NewFileStore(dir)
}

func runStoreExport(st store.Store, out io.Writer, format string) error {
	streams, collections, err := st.List()
	if err != nil {
		return err
	}
	set := config.EntrySet{Streams: streams, Collections: collections}
	if format == formatJSON {
		return render(out, format, set, nil)
	}

	text, err := encodeEntries(set)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, text)
	return err
}

func encodeEntries(set config.EntrySet) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(set); err != nil {
		return "", fmt.Errorf("failed to encode entries: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func runStoreDiff(cfg *config.GlobalConfig, st store.Store, out io.Writer) error {
	stStreams, stCollections, err := st.List()
	if err != nil {
		return err
	}
	// Merging with nothing sorts the declared side the same way.
	dStreams, dCollections := store.Merge(cfg.Streams, cfg.Collections, nil, nil)
	streams, collections := store.Merge(cfg.Streams, cfg.Collections, stStreams, stCollections)

	declared, err := encodeEntries(config.EntrySet{Streams: dStreams, Collections: dCollections})
	if err != nil {
		return err
	}
	effective, err := encodeEntries(config.EntrySet{Streams: streams, Collections: collections})
	if err != nil {
		return err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(declared),
		B:        difflib.SplitLines(effective),
		FromFile: "declared",
		ToFile:   "effective",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return err
	}
	if text == "" {
		text = "No changes.\n"
	}
	_, err = io.WriteString(out, text)
	return err
}

func runStoreImport(st store.Store, path string, out io.Writer) error {
	set, err := config.LoadEntries(path)
	if err != nil {
		return err
	}
	for _, e := range set.Streams {
		if err := st.SaveStream(e); err != nil {
			return err
		}
	}
	for _, e := range set.Collections {
		if err := st.SaveCollection(e); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "✓ Imported %d stream(s), %d collection(s); run \"tsnstream reload\" to apply\n",
		len(set.Streams), len(set.Collections))
	return nil
}

func runStoreDelete(st store.Store, object string, id uint32, out io.Writer) error {
	var err error
	switch object {
	case "stream":
		err = st.DeleteStream(id)
	case "collection":
		err = st.DeleteCollection(id)
	default:
		return fmt.Errorf("unknown object %q (stream, collection)", object)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Removed %s %d\n", object, id)
	return nil
}
