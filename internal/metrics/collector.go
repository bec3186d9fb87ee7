package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"firestige.xyz/tsnstream/internal/eventbus"
	"firestige.xyz/tsnstream/internal/stream"
)

// StatsSource is the engine view the collector polls.
type StatsSource interface {
	Stats() stream.Stats
}

// BusStats is the event bus view the collector polls.
type BusStats interface {
	GetStats() *eventbus.Stats
}

// Collector periodically copies engine and bus state into the gauges.
type Collector struct {
	engine   StatsSource
	bus      BusStats
	interval chan time.Duration
	logger   *slog.Logger
}

// NewCollector creates a collector. bus may be nil.
func NewCollector(engine StatsSource, bus BusStats) *Collector {
	return &Collector{
		engine:   engine,
		bus:      bus,
		interval: make(chan time.Duration, 1),
		logger:   slog.Default().With("component", "metrics"),
	}
}

// Run collects every interval until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.interval:
			ticker.Reset(d)
			c.logger.Info("metrics collect interval changed", "interval", d)
		case <-ticker.C:
			c.Collect()
		}
	}
}

// SetInterval changes the interval of a running collector.
func (c *Collector) SetInterval(d time.Duration) {
	select {
	case <-c.interval:
	default:
	}
	c.interval <- d
}

// Collect takes one sample.
func (c *Collector) Collect() {
	s := c.engine.Stats()
	Streams.Set(float64(s.Streams))
	StreamsInCollections.Set(float64(s.StreamsInCollections))
	StreamsWithWarnings.Set(float64(s.StreamsWithWarnings))
	Collections.Set(float64(s.Collections))
	RulesInstalled.Set(float64(s.RulesInstalled))
	FlowsAllocated.Set(float64(s.Flows))
	CountersAllocated.Set(float64(s.Counters))
	for _, cl := range stream.Clients() {
		ClientsAttached.WithLabelValues(cl.String()).Set(float64(s.Attached[cl]))
	}
	if u := s.Usage; u != nil {
		HALResources.WithLabelValues("flow", "in_use").Set(float64(u.FlowsInUse))
		HALResources.WithLabelValues("flow", "capacity").Set(float64(u.FlowCapacity))
		HALResources.WithLabelValues("counter", "in_use").Set(float64(u.CountersInUse))
		HALResources.WithLabelValues("counter", "capacity").Set(float64(u.CounterCapacity))
		HALResources.WithLabelValues("rule", "in_use").Set(float64(u.Rules))
		HALResources.WithLabelValues("rule", "capacity").Set(float64(u.RuleCapacity))
	}

	if c.bus == nil {
		return
	}
	bs := c.bus.GetStats()
	EventBusDropped.Set(float64(bs.DroppedCount))
	for i, q := range bs.QueuedCount {
		EventBusQueued.WithLabelValues(strconv.Itoa(i)).Set(float64(q))
	}
}

// CountNotification is an event bus handler feeding NotificationsTotal.
func CountNotification(n stream.Notification) error {
	NotificationsTotal.WithLabelValues(string(n.Object), n.Change.String()).Inc()
	return nil
}
