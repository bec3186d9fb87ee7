// Package hal defines the switch hardware abstraction consumed by the stream
// engine and provides an in-process simulated backend.
package hal

import (
	"errors"
	"fmt"
	"net/netip"
)

// Sentinel errors returned by Switch implementations.
var (
	ErrNoResources  = errors.New("hal: out of resources")
	ErrInvalidID    = errors.New("hal: invalid id")
	ErrNotAllocated = errors.New("hal: id not allocated")
	ErrRuleNotFound = errors.New("hal: rule not found")
)

// RuleID identifies an entry in the ordered rule chain.
type RuleID uint32

const (
	// RuleIDLast used as insertion point appends to the tail of the chain.
	RuleIDLast RuleID = 0
	// RuleIDNone marks a rule that is not installed.
	RuleIDNone RuleID = 0xFFFFFFFF
)

func (id RuleID) String() string {
	switch id {
	case RuleIDLast:
		return "last"
	case RuleIDNone:
		return "none"
	}
	return fmt.Sprintf("0x%08x", uint32(id))
}

// FlowID identifies an ingress flow context.
type FlowID uint32

// FlowIDNone marks an unallocated flow.
const FlowIDNone FlowID = 0xFFFFFFFF

// CounterID identifies an ingress counter set.
type CounterID uint32

// Bit is a ternary match bit.
type Bit uint8

const (
	BitAny Bit = iota
	Bit0
	Bit1
)

func (b Bit) String() string {
	switch b {
	case Bit0:
		return "0"
	case Bit1:
		return "1"
	default:
		return "any"
	}
}

// MarshalText encodes the bit as "any", "0" or "1".
func (b Bit) MarshalText() ([]byte, error) {
	if b > Bit1 {
		return nil, fmt.Errorf("invalid bit value %d", uint8(b))
	}
	return []byte(b.String()), nil
}

// UnmarshalText accepts "any", "0" and "1". "false" and "true" are aliases
// for the two match values.
func (b *Bit) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "any":
		*b = BitAny
	case "0", "false":
		*b = Bit0
	case "1", "true":
		*b = Bit1
	default:
		return fmt.Errorf("invalid bit %q", string(text))
	}
	return nil
}

// FrameType selects the frame-specific part of a rule key.
type FrameType uint8

const (
	FrameAny FrameType = iota
	FrameEtype
	FrameLLC
	FrameSNAP
	FrameIPv4
	FrameIPv6
)

func (t FrameType) String() string {
	switch t {
	case FrameAny:
		return "any"
	case FrameEtype:
		return "etype"
	case FrameLLC:
		return "llc"
	case FrameSNAP:
		return "snap"
	case FrameIPv4:
		return "ipv4"
	case FrameIPv6:
		return "ipv6"
	}
	return fmt.Sprintf("frame(%d)", uint8(t))
}

// U8 is a value/mask pair.
type U8 struct {
	Value uint8 `json:"value"`
	Mask  uint8 `json:"mask"`
}

// U16 is a value/mask pair.
type U16 struct {
	Value uint16 `json:"value"`
	Mask  uint16 `json:"mask"`
}

// U48 is a six byte value/mask pair used for MAC addresses and LLC/SNAP headers.
type U48 struct {
	Value [6]byte `json:"value"`
	Mask  [6]byte `json:"mask"`
}

// Range is an inclusive value range. Any is true when the field is not matched.
type Range struct {
	Any  bool   `json:"any"`
	Low  uint16 `json:"low"`
	High uint16 `json:"high"`
}

// IPMatch is an address/mask pair for either family.
type IPMatch struct {
	Value netip.Addr `json:"value"`
	Mask  netip.Addr `json:"mask"`
}

// MACKey holds the L2 address part of a rule key.
type MACKey struct {
	DMACMC Bit `json:"dmac_mc"`
	DMACBC Bit `json:"dmac_bc"`
	DMAC   U48 `json:"dmac"`
	SMAC   U48 `json:"smac"`
}

// TagKey holds a single VLAN tag match.
type TagKey struct {
	VID    U16 `json:"vid"`
	PCP    U8  `json:"pcp"`
	DEI    Bit `json:"dei"`
	Tagged Bit `json:"tagged"`
	STag   Bit `json:"s_tag"`
}

// IPv4Key holds the IPv4 frame fields of a rule key.
type IPv4Key struct {
	Fragment Bit     `json:"fragment"`
	DSCP     Range   `json:"dscp"`
	Proto    U8      `json:"proto"`
	SIP      IPMatch `json:"sip"`
	DIP      IPMatch `json:"dip"`
	DPort    Range   `json:"dport"`
}

// IPv6Key holds the IPv6 frame fields of a rule key.
type IPv6Key struct {
	DSCP  Range   `json:"dscp"`
	Proto U8      `json:"proto"`
	SIP   IPMatch `json:"sip"`
	DIP   IPMatch `json:"dip"`
	DPort Range   `json:"dport"`
}

// FrameKey holds the frame-type specific part of a rule key. Only the member
// selected by RuleKey.Type is meaningful.
type FrameKey struct {
	Etype U16     `json:"etype"`
	LLC   U48     `json:"llc"`
	SNAP  U48     `json:"snap"`
	IPv4  IPv4Key `json:"ipv4"`
	IPv6  IPv6Key `json:"ipv6"`
}

// RuleKey is the match part of a classification rule.
type RuleKey struct {
	Type     FrameType `json:"type"`
	Ports    []int     `json:"ports"`
	MAC      MACKey    `json:"mac"`
	Tag      TagKey    `json:"tag"`
	InnerTag TagKey    `json:"inner_tag"`
	Frame    FrameKey  `json:"frame"`
}

// RuleAction is the action part of a classification rule.
type RuleAction struct {
	FlowID    FlowID `json:"flow_id"`
	VID       uint16 `json:"vid"`
	PopEnable bool   `json:"pop_enable"`
	PopCount  uint8  `json:"pop_cnt"`
}

// Rule is a classification entry.
type Rule struct {
	ID     RuleID     `json:"id"`
	Key    RuleKey    `json:"key"`
	Action RuleAction `json:"action"`
}

// PSFPFlowConf is the gating/filtering part of a flow context.
type PSFPFlowConf struct {
	FilterEnable bool   `json:"filter_enable" yaml:"filter_enable" mapstructure:"filter_enable"`
	FilterID     uint32 `json:"filter_id" yaml:"filter_id" mapstructure:"filter_id"`
}

// FRERFlowConf is the redundancy part of a flow context.
type FRERFlowConf struct {
	MStreamEnable bool   `json:"mstream_enable" yaml:"mstream_enable" mapstructure:"mstream_enable"`
	MStreamID     uint32 `json:"mstream_id" yaml:"mstream_id" mapstructure:"mstream_id"`
	Generation    bool   `json:"generation" yaml:"generation" mapstructure:"generation"`
	Pop           bool   `json:"pop" yaml:"pop" mapstructure:"pop"`
}

// FlowConf is the configuration of an ingress flow context.
type FlowConf struct {
	CounterEnable     bool         `json:"cnt_enable"`
	CounterID         CounterID    `json:"cnt_id"`
	CutThroughDisable bool         `json:"cut_through_disable"`
	DLBEnable         bool         `json:"dlb_enable"`
	DLBID             uint32       `json:"dlb_id"`
	PSFP              PSFPFlowConf `json:"psfp"`
	FRER              FRERFlowConf `json:"frer"`
}

// FrameCount counts frames and octets.
type FrameCount struct {
	Frames uint64 `json:"frames"`
	Bytes  uint64 `json:"bytes"`
}

// IngressCounters is the counter set attached to a flow context.
type IngressCounters struct {
	RxGreen       FrameCount `json:"rx_green"`
	RxYellow      FrameCount `json:"rx_yellow"`
	RxRed         FrameCount `json:"rx_red"`
	RxMatch       uint64     `json:"rx_match"`
	RxGatePass    uint64     `json:"rx_gate_pass"`
	RxGateDiscard uint64     `json:"rx_gate_discard"`
	RxSDUPass     uint64     `json:"rx_sdu_pass"`
	RxSDUDiscard  uint64     `json:"rx_sdu_discard"`
	RxDiscard     FrameCount `json:"rx_discard"`
	TxDiscard     FrameCount `json:"tx_discard"`
}

// Switch is the rule installer and resource allocator consumed by the engine.
// Implementations need not be safe for concurrent use; the engine serializes
// all calls under its own lock.
type Switch interface {
	// RuleInit returns a rule carrying the hardware defaults for the frame type.
	RuleInit(t FrameType) Rule
	// RuleAdd installs r in front of the rule identified by before, or at the
	// tail when before is RuleIDLast. An existing rule with the same id is
	// replaced and repositioned.
	RuleAdd(before RuleID, r *Rule) error
	RuleDel(id RuleID) error
	// Rules returns the installed chain in match order.
	Rules() []Rule

	FlowAlloc() (FlowID, error)
	FlowFree(id FlowID) error
	FlowConfGet(id FlowID) (FlowConf, error)
	FlowConfSet(id FlowID, conf FlowConf) error

	CounterAlloc() (CounterID, error)
	CounterFree(id CounterID) error
	CountersGet(id CounterID) (IngressCounters, error)
	CountersClear(id CounterID) error
}
