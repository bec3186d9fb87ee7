package hal

import (
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
)

// SimConfig holds the capacities of the simulated switch.
type SimConfig struct {
	FlowCapacity    int
	CounterCapacity int
	RuleCapacity    int
}

// DefaultSimConfig returns capacities large enough for the engine's own limits.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		FlowCapacity:    256,
		CounterCapacity: 256,
		RuleCapacity:    512,
	}
}

// Usage reports resource occupancy of a backend.
type Usage struct {
	FlowsInUse      int `json:"flows_in_use"`
	FlowCapacity    int `json:"flow_capacity"`
	CountersInUse   int `json:"counters_in_use"`
	CounterCapacity int `json:"counter_capacity"`
	Rules           int `json:"rules"`
	RuleCapacity    int `json:"rule_capacity"`
}

// UsageReporter is implemented by backends able to report occupancy.
type UsageReporter interface {
	Usage() Usage
}

// Sim is an in-process Switch. It keeps the rule chain in match order and
// hands out flows and counters from fixed-capacity arenas. It never looks at
// frames; traffic is accounted only through Inject.
type Sim struct {
	ruleCap  int
	chain    []Rule
	flows    *Arena[FlowConf]
	counters *Arena[IngressCounters]
}

// NewSim creates a simulated switch.
func NewSim(cfg SimConfig) *Sim {
	return &Sim{
		ruleCap:  cfg.RuleCapacity,
		chain:    make([]Rule, 0),
		flows:    NewArena[FlowConf](cfg.FlowCapacity),
		counters: NewArena[IngressCounters](cfg.CounterCapacity),
	}
}

var _ Switch = (*Sim)(nil)
var _ UsageReporter = (*Sim)(nil)

// RuleInit returns the default rule for a frame type.
func (s *Sim) RuleInit(t FrameType) Rule {
	r := Rule{
		ID: RuleIDNone,
		Key: RuleKey{
			Type: t,
		},
		Action: RuleAction{
			FlowID: FlowIDNone,
		},
	}

	switch t {
	case FrameIPv4:
		r.Key.Frame.IPv4 = IPv4Key{
			DSCP:  Range{Any: true},
			DPort: Range{Any: true},
			SIP:   IPMatch{Value: netip.IPv4Unspecified(), Mask: netip.IPv4Unspecified()},
			DIP:   IPMatch{Value: netip.IPv4Unspecified(), Mask: netip.IPv4Unspecified()},
		}
	case FrameIPv6:
		r.Key.Frame.IPv6 = IPv6Key{
			DSCP:  Range{Any: true},
			DPort: Range{Any: true},
			SIP:   IPMatch{Value: netip.IPv6Unspecified(), Mask: netip.IPv6Unspecified()},
			DIP:   IPMatch{Value: netip.IPv6Unspecified(), Mask: netip.IPv6Unspecified()},
		}
	}

	return r
}

// RuleAdd inserts or moves a rule in the chain.
func (s *Sim) RuleAdd(before RuleID, r *Rule) error {
	if r == nil || r.ID == RuleIDLast || r.ID == RuleIDNone {
		return ErrInvalidID
	}

	chain := slices.DeleteFunc(slices.Clone(s.chain), func(e Rule) bool { return e.ID == r.ID })
	if len(chain) == len(s.chain) && len(chain) >= s.ruleCap {
		return fmt.Errorf("%w: rule chain full (%d)", ErrNoResources, s.ruleCap)
	}

	pos := len(chain)
	if before != RuleIDLast {
		pos = slices.IndexFunc(chain, func(e Rule) bool { return e.ID == before })
		if pos < 0 {
			return fmt.Errorf("%w: insertion point %s", ErrRuleNotFound, before)
		}
	}

	entry := *r
	entry.Key.Ports = slices.Clone(r.Key.Ports)
	s.chain = slices.Insert(chain, pos, entry)

	slog.Debug("hal: rule added", "rule_id", r.ID, "before", before, "flow_id", r.Action.FlowID)
	return nil
}

// RuleDel removes a rule from the chain.
func (s *Sim) RuleDel(id RuleID) error {
	pos := slices.IndexFunc(s.chain, func(e Rule) bool { return e.ID == id })
	if pos < 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	s.chain = slices.Delete(s.chain, pos, pos+1)
	slog.Debug("hal: rule deleted", "rule_id", id)
	return nil
}

// Rules returns a copy of the chain in match order.
func (s *Sim) Rules() []Rule {
	out := make([]Rule, len(s.chain))
	for i, r := range s.chain {
		out[i] = r
		out[i].Key.Ports = slices.Clone(r.Key.Ports)
	}
	return out
}

// FlowAlloc allocates a flow context with default configuration.
func (s *Sim) FlowAlloc() (FlowID, error) {
	idx, err := s.flows.Alloc()
	if err != nil {
		return FlowIDNone, fmt.Errorf("flow alloc: %w", err)
	}
	return FlowID(idx), nil
}

// FlowFree releases a flow context.
func (s *Sim) FlowFree(id FlowID) error {
	if err := s.flows.Free(uint32(id)); err != nil {
		return fmt.Errorf("flow free: %w", err)
	}
	return nil
}

// FlowConfGet returns the configuration of an allocated flow.
func (s *Sim) FlowConfGet(id FlowID) (FlowConf, error) {
	conf, err := s.flows.Get(uint32(id))
	if err != nil {
		return FlowConf{}, fmt.Errorf("flow conf get: %w", err)
	}
	return *conf, nil
}

// FlowConfSet programs an allocated flow. An enabled counter must be allocated.
func (s *Sim) FlowConfSet(id FlowID, conf FlowConf) error {
	cur, err := s.flows.Get(uint32(id))
	if err != nil {
		return fmt.Errorf("flow conf set: %w", err)
	}
	if conf.CounterEnable {
		if _, err := s.counters.Get(uint32(conf.CounterID)); err != nil {
			return fmt.Errorf("flow conf set: counter: %w", err)
		}
	}
	*cur = conf
	return nil
}

// CounterAlloc allocates a zeroed counter set.
func (s *Sim) CounterAlloc() (CounterID, error) {
	idx, err := s.counters.Alloc()
	if err != nil {
		return 0, fmt.Errorf("counter alloc: %w", err)
	}
	return CounterID(idx), nil
}

// CounterFree releases a counter set.
func (s *Sim) CounterFree(id CounterID) error {
	if err := s.counters.Free(uint32(id)); err != nil {
		return fmt.Errorf("counter free: %w", err)
	}
	return nil
}

// CountersGet reads a counter set.
func (s *Sim) CountersGet(id CounterID) (IngressCounters, error) {
	c, err := s.counters.Get(uint32(id))
	if err != nil {
		return IngressCounters{}, fmt.Errorf("counters get: %w", err)
	}
	return *c, nil
}

// CountersClear zeroes a counter set.
func (s *Sim) CountersClear(id CounterID) error {
	c, err := s.counters.Get(uint32(id))
	if err != nil {
		return fmt.Errorf("counters clear: %w", err)
	}
	*c = IngressCounters{}
	return nil
}

// Inject accounts frames on a counter set as if they had been received on a
// flow using it. All frames are counted as matched and green.
func (s *Sim) Inject(id CounterID, frames, bytes uint64) error {
	c, err := s.counters.Get(uint32(id))
	if err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	c.RxMatch += frames
	c.RxGreen.Frames += frames
	c.RxGreen.Bytes += bytes
	return nil
}

// Usage reports arena and chain occupancy.
func (s *Sim) Usage() Usage {
	return Usage{
		FlowsInUse:      s.flows.InUse(),
		FlowCapacity:    s.flows.Cap(),
		CountersInUse:   s.counters.InUse(),
		CounterCapacity: s.counters.Cap(),
		Rules:           len(s.chain),
		RuleCapacity:    s.ruleCap,
	}
}
