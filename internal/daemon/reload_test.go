package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsnstream/internal/config"
	"firestige.xyz/tsnstream/internal/store"
	"firestige.xyz/tsnstream/internal/stream"
)

func TestDaemon_ReloadLogLevel(t *testing.T) {
	dir := t.TempDir()
	d, configPath := startDaemon(t, testConfig(dir, "info", ""))

	require.Equal(t, "info", d.config.Log.Level)

	writeFile(t, configPath, testConfig(dir, "debug", ""))
	res, err := d.Reload()
	require.NoError(t, err)

	assert.True(t, res.LogChanged)
	assert.Empty(t, res.RequiresRestart)
	assert.Equal(t, "debug", d.config.Log.Level)
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}

func TestDaemon_ReloadEntries(t *testing.T) {
	dir := t.TempDir()
	d, configPath := startDaemon(t, testConfig(dir, "info", `
  streams:
    - id: 1
`))
	assert.Equal(t, []stream.ID{1}, d.Engine().StreamIDs())

	writeFile(t, configPath, testConfig(dir, "info", `
  streams:
    - id: 2
      ports: [0]
    - id: 3
      ports: [1]
  collections:
    - id: 4
      stream_ids: [2, 3]
      frer_action:
        enable: true
        client_id: 7
`))
	res, err := d.Reload()
	require.NoError(t, err)

	assert.True(t, res.Replayed)
	assert.Equal(t, 2, res.Streams)
	assert.Equal(t, 1, res.Collections)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, []stream.ID{2, 3}, d.Engine().StreamIDs())

	st, err := d.Engine().CollectionStatusGet(4)
	require.NoError(t, err)
	assert.True(t, st.ClientStatus.FRER.Enable)
}

func TestDaemon_ReloadReportsColdChanges(t *testing.T) {
	dir := t.TempDir()
	d, configPath := startDaemon(t, testConfig(dir, "info", ""))
	oldCapacity := d.config.HAL.FlowCapacity

	writeFile(t, configPath, testConfig(dir, "info", `
  hal:
    flow_capacity: 16
`))
	res, err := d.Reload()
	require.NoError(t, err)

	assert.Equal(t, []string{"hal"}, res.RequiresRestart)
	assert.Equal(t, oldCapacity, d.config.HAL.FlowCapacity, "cold sections keep their running value")
}

func TestDaemon_ReloadInvalidConfigKeepsState(t *testing.T) {
	dir := t.TempDir()
	d, configPath := startDaemon(t, testConfig(dir, "info", `
  streams:
    - id: 1
`))

	writeFile(t, configPath, testConfig(dir, "loud", ""))
	_, err := d.Reload()
	require.Error(t, err)

	assert.Equal(t, "info", d.config.Log.Level)
	assert.Equal(t, []stream.ID{1}, d.Engine().StreamIDs())
}

func TestDaemon_ReplaysStore(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFileStore(filepath.Join(dir, "store"))
	require.NoError(t, err)

	ports, err := stream.NewPortList(2)
	require.NoError(t, err)
	entry := config.StreamEntry{ID: 9}
	entry.ConfDoc = stream.DefaultConf().Doc()
	entry.Ports = ports
	require.NoError(t, fs.SaveStream(entry))

	// Declared stream 9 is overridden by the stored one.
	d, _ := startDaemon(t, testConfig(dir, "info", `
  streams:
    - id: 9
      ports: [0]
`))
	conf, err := d.Engine().StreamConfGet(9)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, conf.Ports.Ports())
}
