// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared by the daemon, the store and the control channel.
var (
	// Configuration errors
	ErrConfigInvalid = errors.New("tsnstream: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("tsnstream: daemon not running")
	ErrDaemonRunning    = errors.New("tsnstream: daemon already running")

	// Store errors
	ErrStoreCorrupt = errors.New("tsnstream: store entry corrupt")

	// Replay errors
	ErrReplayFailed = errors.New("tsnstream: replay failed")
)
