package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"firestige.xyz/tsnstream/internal/core"
	"firestige.xyz/tsnstream/internal/errors"
)

// ReadPIDFile returns the pid recorded in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.Wrapf(core.ErrDaemonNotRunning, errors.KindNotFound, "no pid file %s", path)
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// IsRunning reports whether the process recorded in the pid file is alive.
func IsRunning(pidFile string) (int, bool) {
	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	return p.Signal(syscall.Signal(0)) == nil
}

// StopDaemon sends SIGTERM to the daemon recorded in pidFile and waits up to
// timeout for it to exit.
func StopDaemon(pidFile string, timeout time.Duration) error {
	pid, running := IsRunning(pidFile)
	if !running {
		return errors.Wrap(core.ErrDaemonNotRunning, errors.KindNotFound, pidFile)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.Errorf(errors.KindTimeout, "daemon pid %d still running after %s", pid, timeout)
}

// SignalReload sends SIGHUP to the daemon recorded in pidFile.
func SignalReload(pidFile string) error {
	pid, running := IsRunning(pidFile)
	if !running {
		return errors.Wrap(core.ErrDaemonNotRunning, errors.KindNotFound, pidFile)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGHUP)
}
