package eventbus

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsnstream/internal/hal"
	"firestige.xyz/tsnstream/internal/stream"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(4, 16)

	var mu sync.Mutex
	got := map[string][]int{}
	require.NoError(t, bus.Subscribe("stream", func(ev *Event) error {
		mu.Lock()
		defer mu.Unlock()
		got[ev.Key] = append(got[ev.Key], ev.Payload.(int))
		return nil
	}))

	for i := 0; i < 10; i++ {
		for _, key := range []string{"a", "b", "c"} {
			require.NoError(t, bus.Publish(&Event{Topic: "stream", Key: key, Payload: i}))
		}
	}
	require.NoError(t, bus.Close())

	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	for _, key := range []string{"a", "b", "c"} {
		assert.Equal(t, want, got[key], "key %s out of order", key)
	}
	stats := bus.GetStats()
	assert.Equal(t, int64(30), stats.PublishedCount)
	assert.Equal(t, int64(30), stats.ProcessedCount)
	assert.Equal(t, 4, stats.PartitionCount)
}

func TestSameKeySamePartition(t *testing.T) {
	bus := NewInMemoryEventBus(8, 1)
	defer bus.Close()

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("stream/%d", i)
		assert.Equal(t, bus.getPartitionID(key), bus.getPartitionID(key))
	}
}

func TestMultipleHandlersAndFailures(t *testing.T) {
	bus := NewInMemoryEventBus(1, 4)

	var calls []string
	require.NoError(t, bus.Subscribe("t", func(*Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe("t", func(*Event) error {
		calls = append(calls, "second")
		return nil
	}))
	require.NoError(t, bus.Publish(&Event{Topic: "t", Key: "k"}))
	require.NoError(t, bus.Publish(&Event{Topic: "unhandled", Key: "k"}))
	require.NoError(t, bus.Close())

	assert.Equal(t, []string{"first", "second"}, calls)
	stats := bus.GetStats()
	assert.Equal(t, int64(1), stats.FailedCount)
	assert.Equal(t, int64(1), stats.ProcessedCount)
}

func TestQueueFull(t *testing.T) {
	bus := NewInMemoryEventBus(1, 1)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe("t", func(*Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}))

	require.NoError(t, bus.Publish(&Event{Topic: "t", Key: "k"}))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler did not start")
	}
	require.NoError(t, bus.Publish(&Event{Topic: "t", Key: "k"}))
	assert.Error(t, bus.Publish(&Event{Topic: "t", Key: "k"}))
	assert.Equal(t, int64(1), bus.GetStats().DroppedCount)

	close(block)
	require.NoError(t, bus.Close())
}

func TestClosed(t *testing.T) {
	bus := NewInMemoryEventBus(2, 2)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.Error(t, bus.Publish(&Event{Topic: "t", Key: "k"}))
	assert.Error(t, bus.Subscribe("t", func(*Event) error { return nil }))
}

func TestNotifier(t *testing.T) {
	bus := NewInMemoryEventBus(2, 16)

	var mu sync.Mutex
	var got []stream.Notification
	require.NoError(t, SubscribeNotifications(bus, func(n stream.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
		return nil
	}))

	n := NewNotifier(bus)
	n.Notify(stream.Notification{Object: stream.ObjectStream, ID: 4, Change: stream.ChangeAdd})
	n.Notify(stream.Notification{Object: stream.ObjectStream, ID: 4, Change: stream.ChangeModify, Count: 1})
	n.Notify(stream.Notification{Object: stream.ObjectCollection, ID: 1, Change: stream.ChangeAdd})
	require.NoError(t, bus.Close())

	require.Len(t, got, 3)
	var streamChanges []stream.ChangeKind
	for _, g := range got {
		if g.Object == stream.ObjectStream {
			streamChanges = append(streamChanges, g.Change)
		}
	}
	assert.Equal(t, []stream.ChangeKind{stream.ChangeAdd, stream.ChangeModify}, streamChanges)

	// Publishing after close is logged, not fatal.
	n.Notify(stream.Notification{Object: stream.ObjectStream, ID: 5})
}

func TestEngineObserver(t *testing.T) {
	bus := NewInMemoryEventBus(2, 64)
	var mu sync.Mutex
	count := map[stream.Object]int{}
	require.NoError(t, SubscribeNotifications(bus, func(n stream.Notification) error {
		mu.Lock()
		count[n.Object]++
		mu.Unlock()
		return nil
	}))

	eng := newEngine(t, NewNotifier(bus))
	conf := stream.DefaultConf()
	require.NoError(t, eng.StreamConfSet(1, conf))
	cc, err := stream.NewCollectionConf(1)
	require.NoError(t, err)
	require.NoError(t, eng.CollectionConfSet(1, cc))
	require.NoError(t, bus.Close())

	assert.GreaterOrEqual(t, count[stream.ObjectStream], 1)
	assert.GreaterOrEqual(t, count[stream.ObjectCollection], 1)
}

func newEngine(t *testing.T, o stream.Observer) *stream.Engine {
	t.Helper()
	eng, err := stream.New(hal.NewSim(hal.DefaultSimConfig()), stream.WithObserver(o))
	require.NoError(t, err)
	return eng
}
