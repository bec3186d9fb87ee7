package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

// render writes v in the selected format. Without a table renderer the
// table format falls back to YAML.
func render(out io.Writer, format string, v any, table func(w *tabwriter.Writer)) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatTable:
		if table != nil {
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			table(w)
			return w.Flush()
		}
		return renderYAML(out, v)
	case formatYAML:
		return renderYAML(out, v)
	}
	return fmt.Errorf("unknown output format %q (table, yaml, json)", format)
}

// renderYAML goes through JSON so field names match the control channel.
func renderYAML(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	return enc.Close()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
