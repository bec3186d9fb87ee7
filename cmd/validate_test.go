package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, entries string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
tsnstream:
  node:
    hostname: sw-test
`+entries), 0644))
	return path
}

func TestRunValidate(t *testing.T) {
	tests := []struct {
		name    string
		entries string
		wantErr bool
		want    string
	}{
		{
			name: "valid entries",
			entries: `
  streams:
    - id: 1
      ports: "0-1"
    - id: 2
      ports: "2"
  collections:
    - id: 1
      stream_ids: [2]
`,
			want: `VALID: node "sw-test", 2 stream(s), 1 collection(s)`,
		},
		{
			name: "collection with unknown member",
			entries: `
  streams:
    - id: 1
      ports: "0"
  collections:
    - id: 1
      stream_ids: [42]
`,
			wantErr: true,
			want:    "INVALID: 1 entr(ies) rejected",
		},
		{
			name: "unparsable document",
			entries: `
  streams:
    - id: 0
`,
			wantErr: true,
			want:    "INVALID:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := runValidate(writeTestConfig(t, tt.entries), &buf)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}
