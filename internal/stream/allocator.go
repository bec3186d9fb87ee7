package stream

import (
	"log/slog"

	"firestige.xyz/tsnstream/internal/hal"
)

// changes records what must be pushed to the switch after an update.
type changes struct {
	flow bool // flow configuration must be reprogrammed
	rule bool // rule must be reinstalled
}

// allocOrFree keeps a binding allocated exactly while at least one client is
// attached. An allocation failure leaves the binding fully freed.
func (e *Engine) allocOrFree(b *binding, cs ClientStatus, ch *changes, log *slog.Logger) error {
	if !cs.AnyAttached() {
		e.free(b, ch, log)
		return nil
	}
	if err := e.alloc(b, ch, log); err != nil {
		e.free(b, ch, log)
		return err
	}
	return nil
}

// alloc allocates the counter, then the flow. Both steps are skipped when
// already done.
func (e *Engine) alloc(b *binding, ch *changes, log *slog.Logger) error {
	if !b.flowConf.CounterEnable {
		id, err := e.sw.CounterAlloc()
		if err != nil {
			log.Error("counter alloc failed", "error", err)
			return fail(ErrHWResources, "counter alloc")
		}
		log.Debug("counter allocated", "counter_id", id)
		b.flowConf.CounterID = id
		b.flowConf.CounterEnable = true
		ch.flow = true
	}

	if b.flowID == hal.FlowIDNone {
		id, err := e.sw.FlowAlloc()
		if err != nil {
			log.Error("flow alloc failed", "error", err)
			return fail(ErrHWResources, "flow alloc")
		}
		log.Debug("flow allocated", "flow_id", id)
		b.flowID = id
		ch.rule = true
	}
	return nil
}

// free releases the flow, then the counter. Failures are logged only; the
// binding always ends up released.
func (e *Engine) free(b *binding, ch *changes, log *slog.Logger) {
	if b.flowID != hal.FlowIDNone {
		if err := e.sw.FlowFree(b.flowID); err != nil {
			log.Error("flow free failed", "flow_id", b.flowID, "error", err)
		} else {
			log.Debug("flow freed", "flow_id", b.flowID)
		}
		b.flowID = hal.FlowIDNone
		ch.rule = true
	}

	if b.flowConf.CounterEnable {
		if err := e.sw.CounterFree(b.flowConf.CounterID); err != nil {
			log.Error("counter free failed", "counter_id", b.flowConf.CounterID, "error", err)
		} else {
			log.Debug("counter freed", "counter_id", b.flowConf.CounterID)
		}
		b.flowConf.CounterID = 0
		b.flowConf.CounterEnable = false
		ch.flow = true
	}
}

// pushFlowConf programs the flow configuration if a flow is allocated.
func (e *Engine) pushFlowConf(b *binding, log *slog.Logger) error {
	if b.flowID == hal.FlowIDNone {
		return nil
	}
	log.Debug("flow conf set", "flow_id", b.flowID)
	if err := e.sw.FlowConfSet(b.flowID, b.flowConf); err != nil {
		log.Error("flow conf set failed", "flow_id", b.flowID, "error", err)
		return fail(ErrInternal, "flow conf set")
	}
	return nil
}
