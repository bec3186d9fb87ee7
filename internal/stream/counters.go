package stream

import (
	"log/slog"

	"firestige.xyz/tsnstream/internal/hal"
)

// CountersGet reads the counters of a stream. A stream that is part of a
// collection reports the collection counters.
func (e *Engine) CountersGet(id ID) (hal.IngressCounters, error) {
	if err := checkID(id); err != nil {
		return hal.IngressCounters{}, err
	}

	unlock := e.lock()
	defer unlock()

	b, notAllocated, err := e.streamCounterBinding(id)
	if err != nil {
		return hal.IngressCounters{}, err
	}
	return e.readCounters(b, notAllocated, e.logger.With("stream_id", id))
}

// CountersClear zeroes the counters of a stream, or of its collection.
func (e *Engine) CountersClear(id ID) error {
	if err := checkID(id); err != nil {
		return err
	}

	unlock := e.lock()
	defer unlock()

	b, notAllocated, err := e.streamCounterBinding(id)
	if err != nil {
		return err
	}
	return e.clearCounters(b, notAllocated, e.logger.With("stream_id", id))
}

// CollectionCountersGet reads the counters of a collection.
func (e *Engine) CollectionCountersGet(cid CollectionID) (hal.IngressCounters, error) {
	if err := checkCollectionID(cid); err != nil {
		return hal.IngressCounters{}, err
	}

	unlock := e.lock()
	defer unlock()

	col, ok := e.collections[cid]
	if !ok {
		return hal.IngressCounters{}, fail(ErrCollectionNoSuchID, "collection %d", cid)
	}
	return e.readCounters(&col.binding, ErrCollectionCountersNotAllocated, e.logger.With("collection_id", cid))
}

// CollectionCountersClear zeroes the counters of a collection.
func (e *Engine) CollectionCountersClear(cid CollectionID) error {
	if err := checkCollectionID(cid); err != nil {
		return err
	}

	unlock := e.lock()
	defer unlock()

	col, ok := e.collections[cid]
	if !ok {
		return fail(ErrCollectionNoSuchID, "collection %d", cid)
	}
	return e.clearCounters(&col.binding, ErrCollectionCountersNotAllocated, e.logger.With("collection_id", cid))
}

// streamCounterBinding returns the binding holding the counters of a stream
// and the code to report when it has none. Collection members report the
// collection's code.
func (e *Engine) streamCounterBinding(id ID) (*binding, Code, error) {
	st, ok := e.streams[id]
	if !ok {
		return nil, 0, fail(ErrNoSuchID, "stream %d", id)
	}
	if cid := st.status.CollectionID; cid != CollectionIDNone {
		col, ok := e.collections[cid]
		if !ok {
			e.logger.Error("owning collection not found", "stream_id", id, "collection_id", cid)
			return nil, 0, fail(ErrInternal, "stream %d: collection %d", id, cid)
		}
		return &col.binding, ErrCollectionCountersNotAllocated, nil
	}
	return &st.binding, ErrCountersNotAllocated, nil
}

func (e *Engine) readCounters(b *binding, notAllocated Code, log *slog.Logger) (hal.IngressCounters, error) {
	if !b.flowConf.CounterEnable {
		return hal.IngressCounters{}, fail(notAllocated, "no counter")
	}
	c, err := e.sw.CountersGet(b.flowConf.CounterID)
	if err != nil {
		log.Error("counters get failed", "counter_id", b.flowConf.CounterID, "error", err)
		return hal.IngressCounters{}, fail(ErrInternal, "counters get")
	}
	return c, nil
}

func (e *Engine) clearCounters(b *binding, notAllocated Code, log *slog.Logger) error {
	if !b.flowConf.CounterEnable {
		return fail(notAllocated, "no counter")
	}
	if err := e.sw.CountersClear(b.flowConf.CounterID); err != nil {
		log.Error("counters clear failed", "counter_id", b.flowConf.CounterID, "error", err)
		return fail(ErrInternal, "counters clear")
	}
	log.Debug("counters cleared", "counter_id", b.flowConf.CounterID)
	return nil
}
