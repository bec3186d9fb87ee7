package config

import (
	"reflect"
)

// ReloadPlan describes how a new configuration differs from the running one.
type ReloadPlan struct {
	// Restart lists sections that only take effect after a restart.
	Restart []string
	// Log is set when the logger must be re-initialized.
	Log bool
	// Metrics is set when the collect interval changed.
	Metrics bool
	// Entries is set when the declared streams or collections changed.
	Entries bool
}

// Changed reports whether anything differs.
func (p ReloadPlan) Changed() bool {
	return len(p.Restart) > 0 || p.Log || p.Metrics || p.Entries
}

// Diff compares two loaded configurations.
func Diff(old, cur *GlobalConfig) ReloadPlan {
	var p ReloadPlan
	cold := []struct {
		name string
		a, b any
	}{
		{"node", old.Node, cur.Node},
		{"control", old.Control, cur.Control},
		{"hal", old.HAL, cur.HAL},
		{"store", old.Store, cur.Store},
		{"notify", old.Notify, cur.Notify},
		{"metrics.listen", old.Metrics.Listen, cur.Metrics.Listen},
		{"metrics.path", old.Metrics.Path, cur.Metrics.Path},
		{"metrics.enabled", old.Metrics.Enabled, cur.Metrics.Enabled},
	}
	for _, c := range cold {
		if !reflect.DeepEqual(c.a, c.b) {
			p.Restart = append(p.Restart, c.name)
		}
	}
	p.Log = !reflect.DeepEqual(old.Log, cur.Log)
	p.Metrics = old.Metrics.CollectInterval != cur.Metrics.CollectInterval
	p.Entries = !reflect.DeepEqual(old.Streams, cur.Streams) ||
		!reflect.DeepEqual(old.Collections, cur.Collections)
	return p
}
