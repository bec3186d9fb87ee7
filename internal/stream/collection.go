package stream

import (
	"slices"

	"firestige.xyz/tsnstream/internal/hal"
)

// CollectionConfDefault returns an empty collection conf.
func (e *Engine) CollectionConfDefault() CollectionConf {
	return CollectionConf{}
}

// CollectionConfGet returns the normalized conf of a collection.
func (e *Engine) CollectionConfGet(cid CollectionID) (CollectionConf, error) {
	if err := checkCollectionID(cid); err != nil {
		return CollectionConf{}, err
	}

	unlock := e.lock()
	defer unlock()

	col, ok := e.collections[cid]
	if !ok {
		return CollectionConf{}, fail(ErrCollectionNoSuchID, "collection %d", cid)
	}
	return col.conf, nil
}

// CollectionConfSet creates a collection or changes its members. Streams
// leaving the collection become standalone again and lose their clients;
// streams joining it lose their own clients and start using the
// collection's flow.
func (e *Engine) CollectionConfSet(cid CollectionID, conf CollectionConf) error {
	if err := checkCollectionID(cid); err != nil {
		return err
	}
	conf = conf.Normalized()

	unlock := e.lock()
	defer unlock()

	log := e.logger.With("collection_id", cid)

	for _, id := range conf.Members() {
		if err := checkID(id); err != nil {
			return err
		}
		st, ok := e.streams[id]
		if !ok {
			return invalid(ErrCollectionStreamIDDoesntExist, "stream_id", uint32(id))
		}
		if owner := st.status.CollectionID; owner != CollectionIDNone && owner != cid {
			return fail(ErrCollectionStreamPartOfOtherCollection, "stream %d in collection %d", id, owner)
		}
	}

	col, exists := e.collections[cid]
	if exists && col.conf == conf {
		log.Debug("no changes")
		return nil
	}

	if !exists {
		col = &collectionState{
			id:         cid,
			binding:    binding{flowID: hal.FlowIDNone, flowConf: e.flowDefault},
			ruleAction: e.ruleActionDefault,
		}
		e.collections[cid] = col
		e.collectionIDs = insertSorted(e.collectionIDs, cid)
		e.notifyCollection(cid, ChangeAdd)
	} else {
		for _, id := range col.conf.Members() {
			if !conf.Has(id) {
				e.detach(col, e.streams[id])
			}
		}
	}

	log.Info("collection conf set", "stream_ids", conf.Members())
	col.conf = conf

	var firstErr error
	for _, id := range conf.Members() {
		st := e.streams[id]
		if st.status.CollectionID == cid {
			continue
		}
		e.freeStreamResources(st, log.With("stream_id", id))
		if err := e.attach(col, st); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.updateCollectionWarnings(col)
	e.notifyCollection(cid, ChangeModify)
	return firstErr
}

// CollectionConfDel deletes a collection. Its members become standalone
// streams without clients.
func (e *Engine) CollectionConfDel(cid CollectionID) error {
	if err := checkCollectionID(cid); err != nil {
		return err
	}

	unlock := e.lock()
	defer unlock()

	col, ok := e.collections[cid]
	if !ok {
		return fail(ErrCollectionNoSuchID, "collection %d", cid)
	}
	e.logger.Info("collection conf del", "collection_id", cid)
	e.collectionDelete(col)
	return nil
}

// CollectionNext returns the first collection id greater than prev.
func (e *Engine) CollectionNext(prev CollectionID) (CollectionID, bool) {
	unlock := e.lock()
	defer unlock()
	return nextID(e.collectionIDs, prev)
}

// CollectionIDs returns all collection ids in ascending order.
func (e *Engine) CollectionIDs() []CollectionID {
	unlock := e.lock()
	defer unlock()
	return slices.Clone(e.collectionIDs)
}

// CollectionActionSet attaches, updates or detaches a client on a
// collection. The flow fields land on the collection's flow; the FRER rule
// fields are pushed to every member rule.
func (e *Engine) CollectionActionSet(cid CollectionID, client Client, action Action, redundancyReset bool) error {
	if err := checkCollectionID(cid); err != nil {
		return err
	}
	if err := checkClient(client); err != nil {
		return err
	}

	unlock := e.lock()
	defer unlock()

	log := e.logger.With("collection_id", cid, "client", client)

	col, ok := e.collections[cid]
	if !ok {
		return fail(ErrCollectionNoSuchID, "collection %d", cid)
	}

	if redundancyReset {
		log.Debug("redundancy reset")
		return e.pushFlowConf(&col.binding, log)
	}

	log.Info("collection action set", "enable", action.Enable, "client_id", action.ClientID)

	var ch changes
	prev := *col.status.ClientStatus.Client(client)
	*col.status.ClientStatus.Client(client) = action
	allocErr := e.allocOrFree(&col.binding, col.status.ClientStatus, &ch, log)
	if allocErr != nil {
		*col.status.ClientStatus.Client(client) = prev
	} else {
		a := e.effectiveAction(col.status.ClientStatus, client)
		e.applyCutThrough(&col.flowConf, col.status.ClientStatus, &ch)
		applyFlowAction(&col.flowConf, client, a, &ch)
		applyRuleAction(&col.ruleAction, client, a, &ch)

		if ch.flow {
			if err := e.pushFlowConf(&col.binding, log); err != nil {
				return err
			}
		}
	}

	// Members follow the collection flow even when the allocation failed,
	// since that released the flow they pointed at.
	var firstErr error
	for _, id := range col.conf.Members() {
		st := e.streams[id]
		if ch.rule || st.rule.Action.FlowID != col.flowID {
			copyRuleAction(&st.rule.Action, col.ruleAction)
			if err := e.installRule(st, col.flowID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		e.updateStreamWarnings(st)
	}
	e.updateCollectionWarnings(col)

	if allocErr != nil {
		return allocErr
	}
	return firstErr
}

// CollectionStatusGet returns the operational state of a collection.
func (e *Engine) CollectionStatusGet(cid CollectionID) (CollectionStatus, error) {
	if err := checkCollectionID(cid); err != nil {
		return CollectionStatus{}, err
	}

	unlock := e.lock()
	defer unlock()

	col, ok := e.collections[cid]
	if !ok {
		return CollectionStatus{}, fail(ErrCollectionNoSuchID, "collection %d", cid)
	}
	return col.status, nil
}

// copyRuleAction copies the collection owned rule fields, leaving FlowID.
func copyRuleAction(dst *hal.RuleAction, src hal.RuleAction) {
	dst.VID = src.VID
	dst.PopEnable = src.PopEnable
	dst.PopCount = src.PopCount
}

func (e *Engine) updateCollectionWarnings(col *collectionState) {
	var w CollectionOperWarnings
	if col.conf.StreamIDs[0] == IDNone {
		w |= WarningNoStreamsAttached
	}
	if !col.status.ClientStatus.AnyAttached() {
		w |= WarningNoClientsAttached
	}
	for _, id := range col.conf.Members() {
		if st, ok := e.streams[id]; ok && st.status.OperWarnings != 0 {
			w |= WarningStreamHasWarnings
			break
		}
	}
	col.status.OperWarnings = w
}

// attach makes st use the collection flow and rule fields.
func (e *Engine) attach(col *collectionState, st *streamState) error {
	e.logger.Debug("attach", "collection_id", col.id, "stream_id", st.id)
	st.status.CollectionID = col.id
	copyRuleAction(&st.rule.Action, col.ruleAction)
	err := e.installRule(st, col.flowID)
	e.updateStreamWarnings(st)
	e.notifyStream(st.id, ChangeModify)
	return err
}

// detach turns st back into a standalone stream without clients.
func (e *Engine) detach(col *collectionState, st *streamState) {
	e.logger.Debug("detach", "collection_id", col.id, "stream_id", st.id)
	copyRuleAction(&st.rule.Action, e.ruleActionDefault)
	if err := e.installRule(st, hal.FlowIDNone); err != nil {
		e.logger.Error("reinstall after detach failed", "stream_id", st.id, "error", err)
	}
	st.status.CollectionID = CollectionIDNone
	e.updateStreamWarnings(st)
	e.notifyStream(st.id, ChangeModify)
}

// detachAndConsolidate removes st from the collection member list and packs
// the remaining members.
func (e *Engine) detachAndConsolidate(col *collectionState, st *streamState) {
	i := slices.Index(col.conf.StreamIDs[:], st.id)
	if i < 0 {
		e.logger.Error("stream not a member", "collection_id", col.id, "stream_id", st.id)
		return
	}
	e.detach(col, st)
	col.conf.StreamIDs[i] = IDNone
	col.conf = col.conf.Normalized()
	e.updateCollectionWarnings(col)
	e.notifyCollection(col.id, ChangeModify)
}

func (e *Engine) collectionDelete(col *collectionState) {
	log := e.logger.With("collection_id", col.id)
	for _, id := range col.conf.Members() {
		if st, ok := e.streams[id]; ok {
			e.detach(col, st)
		}
	}

	var ch changes
	e.free(&col.binding, &ch, log)
	e.notifyCollection(col.id, ChangeDelete)
	delete(e.collections, col.id)
	e.collectionIDs = removeSorted(e.collectionIDs, col.id)
}

// ownerClientStatus returns the client status that governs st: the
// collection's when st is a member, its own otherwise.
func (e *Engine) ownerClientStatus(st *streamState) ClientStatus {
	if col, ok := e.collections[st.status.CollectionID]; ok {
		return col.status.ClientStatus
	}
	return st.status.ClientStatus
}
