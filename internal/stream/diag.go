package stream

import (
	"firestige.xyz/tsnstream/internal/hal"
)

// StatisticsRow is one line of the statistics dump.
type StatisticsRow struct {
	StreamID     ID                   `json:"stream_id" yaml:"stream_id"`
	CollectionID CollectionID         `json:"collection_id" yaml:"collection_id"`
	Counters     *hal.IngressCounters `json:"counters,omitempty" yaml:"counters,omitempty"`
	Error        string               `json:"error,omitempty" yaml:"error,omitempty"`
}

// RuleRow describes the rule installed for a stream.
type RuleRow struct {
	StreamID     ID           `json:"stream_id" yaml:"stream_id"`
	CollectionID CollectionID `json:"collection_id" yaml:"collection_id"`
	RuleID       hal.RuleID   `json:"rule_id" yaml:"rule_id"`
	Installed    bool         `json:"installed" yaml:"installed"`
	PSFPEnable   bool         `json:"psfp_enable" yaml:"psfp_enable"`
	PSFPClientID uint32       `json:"psfp_client_id" yaml:"psfp_client_id"`
	FREREnable   bool         `json:"frer_enable" yaml:"frer_enable"`
	FRERClientID uint32       `json:"frer_client_id" yaml:"frer_client_id"`
	FlowID       hal.FlowID   `json:"flow_id" yaml:"flow_id"`
	VID          uint16       `json:"vid" yaml:"vid"`
	PopEnable    bool         `json:"pop_enable" yaml:"pop_enable"`
	PopCount     uint8        `json:"pop_cnt" yaml:"pop_cnt"`
	Protocol     string       `json:"protocol" yaml:"protocol"`
	Ports        string       `json:"ports" yaml:"ports"`
}

// FlowRow describes the flow context used by a stream.
type FlowRow struct {
	StreamID     ID            `json:"stream_id" yaml:"stream_id"`
	CollectionID CollectionID  `json:"collection_id" yaml:"collection_id"`
	FlowID       hal.FlowID    `json:"flow_id" yaml:"flow_id"`
	CounterID    hal.CounterID `json:"cnt_id" yaml:"cnt_id"`
	Conf         hal.FlowConf  `json:"conf" yaml:"conf"`
}

// Stats is a point-in-time summary of the engine, used for metrics.
type Stats struct {
	Streams              int              `json:"streams"`
	Collections          int              `json:"collections"`
	StreamsInCollections int              `json:"streams_in_collections"`
	RulesInstalled       int              `json:"rules_installed"`
	StreamsWithWarnings  int              `json:"streams_with_warnings"`
	Flows                int              `json:"flows"`
	Counters             int              `json:"counters"`
	Attached             [clientCount]int `json:"attached"`
	Usage                *hal.Usage       `json:"usage,omitempty"`
}

// debugIDs resolves the stream selection of a dump: the given ids that
// exist, or all streams when none are given.
func (e *Engine) debugIDs(ids []ID) []ID {
	if len(ids) == 0 {
		return append([]ID(nil), e.streamIDs...)
	}
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := e.streams[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// flowOf returns the binding a stream forwards to.
func (e *Engine) flowOf(st *streamState) *binding {
	if col, ok := e.collections[st.status.CollectionID]; ok {
		return &col.binding
	}
	return &st.binding
}

// DebugStatistics dumps the counters of the selected streams. Streams
// without counters get a row carrying the error text.
func (e *Engine) DebugStatistics(ids []ID) []StatisticsRow {
	unlock := e.lock()
	defer unlock()

	rows := make([]StatisticsRow, 0, len(e.streamIDs))
	for _, id := range e.debugIDs(ids) {
		st := e.streams[id]
		row := StatisticsRow{StreamID: id, CollectionID: st.status.CollectionID}
		b := e.flowOf(st)
		notAllocated := ErrCountersNotAllocated
		if st.status.CollectionID != CollectionIDNone {
			notAllocated = ErrCollectionCountersNotAllocated
		}
		c, err := e.readCounters(b, notAllocated, e.logger.With("stream_id", id))
		if err != nil {
			row.Error = CodeOf(err).Error()
		} else {
			row.Counters = &c
		}
		rows = append(rows, row)
	}
	return rows
}

// DebugRules dumps the rule of the selected streams. The client columns
// show the collection's clients for member streams.
func (e *Engine) DebugRules(ids []ID) []RuleRow {
	unlock := e.lock()
	defer unlock()

	rows := make([]RuleRow, 0, len(e.streamIDs))
	for _, id := range e.debugIDs(ids) {
		st := e.streams[id]
		cs := e.ownerClientStatus(st)
		a := st.rule.Action
		rows = append(rows, RuleRow{
			StreamID:     id,
			CollectionID: st.status.CollectionID,
			RuleID:       st.rule.ID,
			Installed:    st.rule.ID != hal.RuleIDNone,
			PSFPEnable:   cs.PSFP.Enable,
			PSFPClientID: cs.PSFP.ClientID,
			FREREnable:   cs.FRER.Enable,
			FRERClientID: cs.FRER.ClientID,
			FlowID:       a.FlowID,
			VID:          a.VID,
			PopEnable:    a.PopEnable,
			PopCount:     a.PopCount,
			Protocol:     st.conf.Protocol.String(),
			Ports:        st.conf.Ports.String(),
		})
	}
	return rows
}

// DebugFlows dumps the flow context of the selected streams. Streams without
// a flow are left out.
func (e *Engine) DebugFlows(ids []ID) []FlowRow {
	unlock := e.lock()
	defer unlock()

	rows := make([]FlowRow, 0, len(e.streamIDs))
	for _, id := range e.debugIDs(ids) {
		st := e.streams[id]
		b := e.flowOf(st)
		if b.flowID == hal.FlowIDNone {
			continue
		}
		rows = append(rows, FlowRow{
			StreamID:     id,
			CollectionID: st.status.CollectionID,
			FlowID:       b.flowID,
			CounterID:    b.flowConf.CounterID,
			Conf:         b.flowConf,
		})
	}
	return rows
}

// Stats summarizes the registries.
func (e *Engine) Stats() Stats {
	unlock := e.lock()
	defer unlock()

	s := Stats{Streams: len(e.streams), Collections: len(e.collections)}
	count := func(b *binding, cs ClientStatus) {
		if b.flowID != hal.FlowIDNone {
			s.Flows++
		}
		if b.flowConf.CounterEnable {
			s.Counters++
		}
		for _, c := range Clients() {
			if cs.Client(c).Enable {
				s.Attached[c]++
			}
		}
	}
	for _, st := range e.streams {
		if st.rule.ID != hal.RuleIDNone {
			s.RulesInstalled++
		}
		if st.status.OperWarnings != 0 {
			s.StreamsWithWarnings++
		}
		if st.status.CollectionID != CollectionIDNone {
			s.StreamsInCollections++
			continue
		}
		count(&st.binding, st.status.ClientStatus)
	}
	for _, col := range e.collections {
		count(&col.binding, col.status.ClientStatus)
	}
	if r, ok := e.sw.(hal.UsageReporter); ok {
		u := r.Usage()
		s.Usage = &u
	}
	return s
}
