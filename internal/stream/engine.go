// Package stream implements the TSN stream classification engine. Streams
// are user-defined match rules installed into the switch rule chain; stream
// collections group streams so that they share one flow context. PSFP and
// FRER clients attach actions to streams or collections, which allocates
// flows and counters on first attach and frees them on last detach.
package stream

import (
	"log/slog"
	"slices"
	"sync"

	"firestige.xyz/tsnstream/internal/hal"
)

// binding is the flow context owned by a standalone stream or a collection.
type binding struct {
	flowID   hal.FlowID
	flowConf hal.FlowConf
}

type streamState struct {
	id     ID
	conf   Conf
	status Status
	binding
	rule hal.Rule
}

type collectionState struct {
	id     CollectionID
	conf   CollectionConf
	status CollectionStatus
	binding
	// ruleAction carries the FRER rule fields applied to every member.
	ruleAction hal.RuleAction
}

// Observer receives change notifications after the engine lock is released.
type Observer interface {
	Notify(Notification)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Notification)

func (f ObserverFunc) Notify(n Notification) { f(n) }

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver registers an observer of stream and collection changes.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// Engine owns the stream and collection registries. All public methods are
// safe for concurrent use; they are serialized by one lock held for the
// duration of the call.
type Engine struct {
	mu     sync.Mutex
	sw     hal.Switch
	logger *slog.Logger

	streams         map[ID]*streamState
	streamIDs       []ID
	collections     map[CollectionID]*collectionState
	collectionIDs   []CollectionID
	streamNotif     map[ID]uint32
	collectionNotif map[CollectionID]uint32

	observers []Observer
	pending   []Notification

	flowDefault       hal.FlowConf
	ruleActionDefault hal.RuleAction
	actionDefault     [clientCount]Action
}

// New creates an engine on top of a switch. The client detach defaults are
// read from the switch: the rule action of an Any rule and the configuration
// of a freshly allocated flow.
func New(sw hal.Switch, opts ...Option) (*Engine, error) {
	e := &Engine{
		sw:              sw,
		logger:          slog.Default(),
		streams:         make(map[ID]*streamState),
		collections:     make(map[CollectionID]*collectionState),
		streamNotif:     make(map[ID]uint32),
		collectionNotif: make(map[CollectionID]uint32),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "stream")

	e.ruleActionDefault = sw.RuleInit(hal.FrameAny).Action

	flowID, err := sw.FlowAlloc()
	if err != nil {
		return nil, fail(ErrHWResources, "probe flow defaults")
	}
	e.flowDefault, err = sw.FlowConfGet(flowID)
	if ferr := sw.FlowFree(flowID); ferr != nil {
		e.logger.Error("free probe flow failed", "flow_id", flowID, "error", ferr)
	}
	if err != nil {
		return nil, fail(ErrInternal, "read flow defaults")
	}

	e.actionDefault[ClientPSFP] = Action{
		CutThroughDisable: e.flowDefault.CutThroughDisable,
		PSFP: PSFPAction{
			DLBEnable: e.flowDefault.DLBEnable,
			DLBID:     e.flowDefault.DLBID,
			Flow:      e.flowDefault.PSFP,
		},
	}
	e.actionDefault[ClientFRER] = Action{
		CutThroughDisable: e.flowDefault.CutThroughDisable,
		FRER: FRERAction{
			VID:       e.ruleActionDefault.VID,
			PopEnable: e.ruleActionDefault.PopEnable,
			PopCount:  e.ruleActionDefault.PopCount,
			Flow:      e.flowDefault.FRER,
		},
	}

	return e, nil
}

// lock acquires the engine lock. The returned function releases it and then
// delivers notifications queued while it was held.
func (e *Engine) lock() func() {
	e.mu.Lock()
	return func() {
		pending := e.pending
		e.pending = nil
		e.mu.Unlock()
		for _, n := range pending {
			for _, o := range e.observers {
				o.Notify(n)
			}
		}
	}
}

// CapabilitiesGet returns the engine limits.
func (e *Engine) CapabilitiesGet() Capabilities {
	return Capabilities{
		MaxStreams:              MaxStreams,
		MaxCollections:          MaxCollections,
		StreamsPerCollectionMax: StreamsPerCollectionMax,
	}
}

// ProtocolDefault returns the default protocol of type t.
func (e *Engine) ProtocolDefault(t ProtocolType) (Protocol, error) {
	return DefaultProtocol(t)
}

// ActionDefault returns the action a detached client leaves behind.
func (e *Engine) ActionDefault(c Client) (Action, error) {
	if err := checkClient(c); err != nil {
		return Action{}, err
	}
	return e.actionDefault[c], nil
}

// Default deletes all collections, then all streams.
func (e *Engine) Default() {
	unlock := e.lock()
	defer unlock()

	for _, cid := range slices.Clone(e.collectionIDs) {
		e.collectionDelete(e.collections[cid])
	}
	for _, id := range slices.Clone(e.streamIDs) {
		e.streamDelete(e.streams[id])
	}
}

func checkID(id ID) error {
	if id == IDNone || id > MaxStreams {
		return withRange(invalid(ErrInvalidID, "stream_id", uint32(id)), 1, MaxStreams)
	}
	return nil
}

func checkCollectionID(cid CollectionID) error {
	if cid == CollectionIDNone || cid > MaxCollections {
		return withRange(invalid(ErrCollectionInvalidID, "collection_id", uint32(cid)), 1, MaxCollections)
	}
	return nil
}

func checkClient(c Client) error {
	if !clients.valid(c) {
		return invalid(ErrInvalidClient, "client", uint8(c))
	}
	return nil
}

// nextID returns the smallest element of sorted ids greater than prev.
func nextID[T ~uint32](ids []T, prev T) (T, bool) {
	i, found := slices.BinarySearch(ids, prev)
	if found {
		i++
	}
	if i < len(ids) {
		return ids[i], true
	}
	return 0, false
}

func insertSorted[T ~uint32](ids []T, id T) []T {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}

func removeSorted[T ~uint32](ids []T, id T) []T {
	i, found := slices.BinarySearch(ids, id)
	if !found {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}
