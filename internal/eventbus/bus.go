// Package eventbus is an in-memory, key-partitioned event bus.
package eventbus

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/serialx/hashring"
)

// EventBus is the publish/subscribe interface.
type EventBus interface {
	Publish(event *Event) error
	Subscribe(topic string, handler Handler) error
	Close() error
	GetStats() *Stats
}

// Stats is a snapshot of bus counters.
type Stats struct {
	PublishedCount int64 `json:"published"`
	ProcessedCount int64 `json:"processed"`
	FailedCount    int64 `json:"failed"`
	DroppedCount   int64 `json:"dropped"`
	PartitionCount int   `json:"partitions"`
	QueuedCount    []int `json:"queued"`
}

// InMemoryEventBus spreads events over partitions with a consistent hash of
// the event key. Each partition runs one consumer goroutine.
type InMemoryEventBus struct {
	partitions     []*partition
	partitionNodes []string
	hashRing       *hashring.HashRing
	logger         *slog.Logger

	mu          sync.RWMutex
	subscribers map[string][]Handler
	closed      bool
	wg          sync.WaitGroup

	publishedCount atomic.Int64
	processedCount atomic.Int64
	failedCount    atomic.Int64
	droppedCount   atomic.Int64
}

// NewInMemoryEventBus creates a bus with partitionCount queues of queueSize.
func NewInMemoryEventBus(partitionCount, queueSize int) *InMemoryEventBus {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	bus := &InMemoryEventBus{
		partitions:     make([]*partition, partitionCount),
		partitionNodes: make([]string, partitionCount),
		subscribers:    make(map[string][]Handler),
		logger:         slog.Default().With("component", "eventbus"),
	}

	for i := 0; i < partitionCount; i++ {
		bus.partitionNodes[i] = "partition-" + strconv.Itoa(i)
	}
	bus.hashRing = hashring.New(bus.partitionNodes)

	for i := 0; i < partitionCount; i++ {
		bus.partitions[i] = &partition{
			id:    i,
			queue: make(chan *Event, queueSize),
		}
		bus.wg.Add(1)
		go bus.runPartition(bus.partitions[i])
	}

	return bus
}

// Publish queues event on the partition of its key. It never blocks; a full
// queue drops the event and returns an error.
func (b *InMemoryEventBus) Publish(event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	partitionID := b.getPartitionID(event.Key)
	select {
	case b.partitions[partitionID].queue <- event:
		b.publishedCount.Add(1)
		return nil
	default:
		b.droppedCount.Add(1)
		return fmt.Errorf("partition %d queue is full", partitionID)
	}
}

// Subscribe adds a handler for topic. Handlers of a topic run in
// subscription order.
func (b *InMemoryEventBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	b.subscribers[topic] = append(b.subscribers[topic], handler)
	b.logger.Debug("subscribed", "topic", topic)
	return nil
}

// Close stops accepting events, lets the partitions drain their queues and
// waits for them to exit.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, p := range b.partitions {
		close(p.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Debug("event bus closed")
	return nil
}

// GetStats returns the bus counters.
func (b *InMemoryEventBus) GetStats() *Stats {
	stats := &Stats{
		PublishedCount: b.publishedCount.Load(),
		ProcessedCount: b.processedCount.Load(),
		FailedCount:    b.failedCount.Load(),
		DroppedCount:   b.droppedCount.Load(),
		PartitionCount: len(b.partitions),
		QueuedCount:    make([]int, len(b.partitions)),
	}
	for i, p := range b.partitions {
		stats.QueuedCount[i] = len(p.queue)
	}
	return stats
}

// getPartitionID maps key onto a partition through the hash ring.
func (b *InMemoryEventBus) getPartitionID(key string) int {
	node, ok := b.hashRing.GetNode(key)
	if !ok {
		return 0
	}
	for i, partitionNode := range b.partitionNodes {
		if partitionNode == node {
			return i
		}
	}
	return 0
}

func (b *InMemoryEventBus) handlers(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subscribers[topic]
}

func (b *InMemoryEventBus) dispatch(p *partition, event *Event) {
	hs := b.handlers(event.Topic)
	if len(hs) == 0 {
		b.logger.Debug("no handler for topic", "topic", event.Topic)
		return
	}
	for _, h := range hs {
		if err := h(event); err != nil {
			b.failedCount.Add(1)
			b.logger.Error("failed to handle event",
				"partition", p.id, "topic", event.Topic, "key", event.Key, "error", err)
			continue
		}
		b.processedCount.Add(1)
	}
}

// runPartition consumes one partition until its queue is closed.
func (b *InMemoryEventBus) runPartition(p *partition) {
	defer b.wg.Done()
	b.logger.Debug("partition started", "partition", p.id)
	defer b.logger.Debug("partition stopped", "partition", p.id)

	for event := range p.queue {
		b.dispatch(p, event)
	}
}

var _ EventBus = (*InMemoryEventBus)(nil)
