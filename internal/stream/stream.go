package stream

import (
	"errors"
	"log/slog"

	"firestige.xyz/tsnstream/internal/hal"
)

// StreamConfDefault returns the default stream conf.
func (e *Engine) StreamConfDefault() Conf {
	return DefaultConf()
}

// StreamConfGet returns the normalized conf of a stream.
func (e *Engine) StreamConfGet(id ID) (Conf, error) {
	if err := checkID(id); err != nil {
		return Conf{}, err
	}

	unlock := e.lock()
	defer unlock()

	st, ok := e.streams[id]
	if !ok {
		return Conf{}, fail(ErrNoSuchID, "stream %d", id)
	}
	return st.conf, nil
}

// StreamConfSet creates or updates a stream. The conf is validated and
// normalized before anything is changed; setting the conf a stream already
// has is a no-op.
func (e *Engine) StreamConfSet(id ID, conf Conf) error {
	if err := checkID(id); err != nil {
		return err
	}
	conf, err := conf.Normalize()
	if err != nil {
		return err
	}

	unlock := e.lock()
	defer unlock()

	log := e.logger.With("stream_id", id)

	st, exists := e.streams[id]
	if exists && st.conf == conf {
		log.Debug("no changes")
		return nil
	}

	if !exists {
		st = &streamState{
			id:      id,
			binding: binding{flowID: hal.FlowIDNone, flowConf: e.flowDefault},
			rule:    hal.Rule{ID: hal.RuleIDNone, Action: e.ruleActionDefault},
		}
		st.status.CollectionID = CollectionIDNone
		e.streams[id] = st
		e.streamIDs = insertSorted(e.streamIDs, id)
		e.notifyStream(id, ChangeAdd)
	} else {
		e.notifyStream(id, ChangeModify)
		// The collection's port set follows its members.
		if st.conf.Ports != conf.Ports && st.status.CollectionID != CollectionIDNone {
			e.notifyCollection(st.status.CollectionID, ChangeModify)
		}
	}

	log.Info("stream conf set", "protocol", conf.ProtocolType(), "ports", conf.Ports.String())
	st.conf = conf
	e.updateRuleKey(st)
	e.updateStreamWarnings(st)

	flowID := st.flowID
	if cid := st.status.CollectionID; cid != CollectionIDNone {
		e.notifyCollection(cid, ChangeModify)
		col, ok := e.collections[cid]
		if !ok {
			log.Error("owning collection not found", "collection_id", cid)
			return fail(ErrInternal, "stream %d: collection %d", id, cid)
		}
		e.updateCollectionWarnings(col)
		flowID = col.flowID
	}

	return e.installRule(st, flowID)
}

// StreamConfDel deletes a stream, detaching its clients and removing it from
// its collection.
func (e *Engine) StreamConfDel(id ID) error {
	if err := checkID(id); err != nil {
		return err
	}

	unlock := e.lock()
	defer unlock()

	st, ok := e.streams[id]
	if !ok {
		return fail(ErrNoSuchID, "stream %d", id)
	}
	e.logger.Info("stream conf del", "stream_id", id)
	e.streamDelete(st)
	return nil
}

// StreamNext returns the first stream id greater than prev. Use IDNone to
// get the first one.
func (e *Engine) StreamNext(prev ID) (ID, bool) {
	unlock := e.lock()
	defer unlock()
	return nextID(e.streamIDs, prev)
}

// StreamIDs returns all stream ids in ascending order.
func (e *Engine) StreamIDs() []ID {
	unlock := e.lock()
	defer unlock()
	return append([]ID(nil), e.streamIDs...)
}

// StreamActionSet attaches, updates or detaches a client on a standalone
// stream. When redundancyReset is set, the action is ignored and the current
// flow configuration is pushed again, which restarts FRER sequence generation.
func (e *Engine) StreamActionSet(id ID, client Client, action Action, redundancyReset bool) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := checkClient(client); err != nil {
		return err
	}

	unlock := e.lock()
	defer unlock()

	log := e.logger.With("stream_id", id, "client", client)

	st, ok := e.streams[id]
	if !ok {
		return fail(ErrNoSuchID, "stream %d", id)
	}
	if st.status.CollectionID != CollectionIDNone {
		return fail(ErrPartOfCollection, "stream %d in collection %d", id, st.status.CollectionID)
	}

	if redundancyReset {
		log.Debug("redundancy reset")
		return e.pushFlowConf(&st.binding, log)
	}

	log.Info("stream action set", "enable", action.Enable, "client_id", action.ClientID)

	var ch changes
	prev := *st.status.ClientStatus.Client(client)
	*st.status.ClientStatus.Client(client) = action
	if err := e.allocOrFree(&st.binding, st.status.ClientStatus, &ch, log); err != nil {
		*st.status.ClientStatus.Client(client) = prev
		// The binding was released; put the rule back on no flow.
		if ierr := e.installRule(st, st.flowID); ierr != nil {
			log.Error("reinstall after alloc failure", "error", ierr)
		}
		return err
	}

	a := e.effectiveAction(st.status.ClientStatus, client)
	applyFlowAction(&st.flowConf, client, a, &ch)
	applyRuleAction(&st.rule.Action, client, a, &ch)
	e.applyCutThrough(&st.flowConf, st.status.ClientStatus, &ch)
	e.updateStreamWarnings(st)

	if ch.flow {
		if err := e.pushFlowConf(&st.binding, log); err != nil {
			return err
		}
	}
	if ch.rule {
		return e.installRule(st, st.flowID)
	}
	return nil
}

// StreamStatusGet returns the operational state of a stream.
func (e *Engine) StreamStatusGet(id ID) (Status, error) {
	if err := checkID(id); err != nil {
		return Status{}, err
	}

	unlock := e.lock()
	defer unlock()

	st, ok := e.streams[id]
	if !ok {
		return Status{}, fail(ErrNoSuchID, "stream %d", id)
	}
	return st.status, nil
}

// updateRuleKey rebuilds the rule key from the conf. The template is taken
// from the switch every time because its defaults depend on the frame type.
func (e *Engine) updateRuleKey(st *streamState) {
	base := e.sw.RuleInit(st.conf.ProtocolType().FrameType())
	st.rule.Key = buildRuleKey(base.Key, st.conf)
}

func (e *Engine) updateStreamWarnings(st *streamState) {
	st.status.OperWarnings &^= WarningNotInstalledOnAnyPort
	if st.conf.Ports.IsEmpty() {
		st.status.OperWarnings |= WarningNotInstalledOnAnyPort
		e.logger.Debug("not installed on any port", "stream_id", st.id)
	}
}

// insertionPoint returns the rule id of the next installed stream in id
// order, or the chain tail if there is none.
func (e *Engine) insertionPoint(id ID) hal.RuleID {
	next := id
	for {
		var ok bool
		if next, ok = nextID(e.streamIDs, next); !ok {
			return hal.RuleIDLast
		}
		if r := e.streams[next].rule.ID; r != hal.RuleIDNone {
			return r
		}
	}
}

// installRule (re)installs the stream's rule pointing at flowID.
func (e *Engine) installRule(st *streamState, flowID hal.FlowID) error {
	st.rule.Action.FlowID = flowID
	st.rule.ID = RuleID(st.id)
	before := e.insertionPoint(st.id)

	e.logger.Debug("rule add", "stream_id", st.id, "rule_id", st.rule.ID, "before", before, "flow_id", flowID)
	if err := e.sw.RuleAdd(before, &st.rule); err != nil {
		e.logger.Error("rule add failed", "stream_id", st.id, "rule_id", st.rule.ID, "error", err)
		st.rule.ID = hal.RuleIDNone
		if errors.Is(err, hal.ErrNoResources) {
			return fail(ErrHWResources, "stream %d: rule add", st.id)
		}
		return fail(ErrInternal, "stream %d: rule add", st.id)
	}
	return nil
}

// removeRule uninstalls the stream's rule if it is installed.
func (e *Engine) removeRule(st *streamState) {
	if st.rule.ID == hal.RuleIDNone {
		return
	}
	e.logger.Debug("rule del", "stream_id", st.id, "rule_id", st.rule.ID)
	if err := e.sw.RuleDel(st.rule.ID); err != nil {
		e.logger.Error("rule del failed", "stream_id", st.id, "rule_id", st.rule.ID, "error", err)
	}
	st.rule.ID = hal.RuleIDNone
}

// freeStreamResources uninstalls the rule, releases the stream's own binding
// and forgets its clients.
func (e *Engine) freeStreamResources(st *streamState, log *slog.Logger) {
	var ch changes
	e.removeRule(st)
	e.free(&st.binding, &ch, log)
	st.flowConf = e.flowDefault
	st.status.ClientStatus = ClientStatus{}
	e.notifyStream(st.id, ChangeModify)
	e.updateStreamWarnings(st)
}

func (e *Engine) streamDelete(st *streamState) {
	log := e.logger.With("stream_id", st.id)

	// Leave the collection first; detaching reinstalls the rule, which is
	// then removed for good below.
	if cid := st.status.CollectionID; cid != CollectionIDNone {
		if col, ok := e.collections[cid]; ok {
			e.detachAndConsolidate(col, st)
		} else {
			log.Error("owning collection not found", "collection_id", cid)
			st.status.CollectionID = CollectionIDNone
		}
	}
	e.freeStreamResources(st, log)

	e.notifyStream(st.id, ChangeDelete)
	delete(e.streams, st.id)
	e.streamIDs = removeSorted(e.streamIDs, st.id)
}
