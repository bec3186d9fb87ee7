package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsnstream/internal/core"
	"firestige.xyz/tsnstream/internal/errors"
)

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPIDFile(filepath.Join(dir, "missing.pid"))
	assert.True(t, errors.Is(err, core.ErrDaemonNotRunning))
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))

	bad := filepath.Join(dir, "bad.pid")
	writeFile(t, bad, "abc\n")
	_, err = ReadPIDFile(bad)
	assert.Error(t, err)

	good := filepath.Join(dir, "good.pid")
	writeFile(t, good, strconv.Itoa(os.Getpid())+"\n")
	pid, err := ReadPIDFile(good)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()
	self := filepath.Join(dir, "self.pid")
	writeFile(t, self, strconv.Itoa(os.Getpid()))

	pid, running := IsRunning(self)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	_, running = IsRunning(filepath.Join(dir, "missing.pid"))
	assert.False(t, running)
}

func TestStopDaemon_NotRunning(t *testing.T) {
	err := StopDaemon(filepath.Join(t.TempDir(), "missing.pid"), time.Second)
	assert.True(t, errors.Is(err, core.ErrDaemonNotRunning))

	err = SignalReload(filepath.Join(t.TempDir(), "missing.pid"))
	assert.True(t, errors.Is(err, core.ErrDaemonNotRunning))
}
