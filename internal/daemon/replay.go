package daemon

import (
	"fmt"
	"log/slog"

	"firestige.xyz/tsnstream/internal/config"
	"firestige.xyz/tsnstream/internal/metrics"
	"firestige.xyz/tsnstream/internal/stream"
)

// ReplayReport summarizes one replay pass.
type ReplayReport struct {
	Streams     int
	Collections int
	Skipped     []string
}

// Replay resets the engine and applies the given entries: stream confs,
// then collection confs, then the client actions of both. Entries the engine
// rejects are logged and skipped.
func Replay(eng *stream.Engine, streams []config.StreamEntry, collections []config.CollectionEntry, logger *slog.Logger) ReplayReport {
	var rep ReplayReport
	skip := func(object string, id uint32, err error) {
		logger.Warn("replay entry skipped", "object", object, "id", id, "error", err)
		rep.Skipped = append(rep.Skipped, fmt.Sprintf("%s %d: %v", object, id, err))
		metrics.ReplayEntriesTotal.WithLabelValues(object, metrics.ResultError).Inc()
	}

	eng.Default()

	applied := make(map[uint32]bool, len(streams))
	for _, e := range streams {
		conf, err := e.Conf()
		if err == nil {
			err = eng.StreamConfSet(stream.ID(e.ID), conf)
		}
		if err != nil {
			skip("stream", e.ID, err)
			continue
		}
		applied[e.ID] = true
		rep.Streams++
		metrics.ReplayEntriesTotal.WithLabelValues("stream", metrics.ResultOK).Inc()
	}

	appliedCol := make(map[uint32]bool, len(collections))
	for _, e := range collections {
		conf, err := e.CollectionConf()
		if err == nil {
			err = eng.CollectionConfSet(stream.CollectionID(e.ID), conf)
		}
		if err != nil {
			skip("collection", e.ID, err)
			continue
		}
		appliedCol[e.ID] = true
		rep.Collections++
		metrics.ReplayEntriesTotal.WithLabelValues("collection", metrics.ResultOK).Inc()
	}

	for _, e := range streams {
		if !applied[e.ID] {
			continue
		}
		for _, c := range stream.Clients() {
			a, ok := e.Actions()[c]
			if !ok {
				continue
			}
			if err := eng.StreamActionSet(stream.ID(e.ID), c, a, false); err != nil {
				skip("stream", e.ID, fmt.Errorf("%s action: %w", c, err))
			}
		}
	}

	for _, e := range collections {
		if !appliedCol[e.ID] {
			continue
		}
		for _, c := range stream.Clients() {
			a, ok := e.Actions()[c]
			if !ok {
				continue
			}
			if err := eng.CollectionActionSet(stream.CollectionID(e.ID), c, a, false); err != nil {
				skip("collection", e.ID, fmt.Errorf("%s action: %w", c, err))
			}
		}
	}

	logger.Info("replay finished",
		"streams", rep.Streams,
		"collections", rep.Collections,
		"skipped", len(rep.Skipped),
	)
	return rep
}
