package stream

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"firestige.xyz/tsnstream/internal/hal"
)

// ID identifies a stream. Valid ids are 1..MaxStreams.
type ID uint32

// CollectionID identifies a stream collection. Valid ids are 1..MaxCollections.
type CollectionID uint32

const (
	// IDNone marks an unused member slot or the absence of a stream.
	IDNone ID = 0
	// CollectionIDNone means a stream is not part of any collection.
	CollectionIDNone CollectionID = 0
)

const (
	MaxStreams              = 127
	MaxCollections          = MaxStreams / 2
	StreamsPerCollectionMax = 8

	// MaxPorts is the size of a PortList.
	MaxPorts = 128

	// ruleTypeStream tags rule ids owned by this engine in the shared chain.
	ruleTypeStream = 4
)

// RuleID returns the rule id a stream is installed under.
func RuleID(id ID) hal.RuleID {
	if id == IDNone {
		return hal.RuleIDLast
	}
	return hal.RuleID(ruleTypeStream<<16 + uint32(id))
}

// Capabilities reports the engine limits.
type Capabilities struct {
	MaxStreams              uint32 `json:"max_streams" yaml:"max_streams"`
	MaxCollections          uint32 `json:"max_collections" yaml:"max_collections"`
	StreamsPerCollectionMax uint32 `json:"streams_per_collection_max" yaml:"streams_per_collection_max"`
}

// MAC is an Ethernet address.
type MAC [6]byte

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

func (m MAC) IsZero() bool {
	return m == MAC{}
}

// IsUnicast reports whether the group bit is clear.
func (m MAC) IsUnicast() bool {
	return m[0]&0x01 == 0
}

// And returns m masked by mask.
func (m MAC) And(mask MAC) MAC {
	var out MAC
	for i := range m {
		out[i] = m[i] & mask[i]
	}
	return out
}

func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MAC) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*m = MAC{}
		return nil
	}
	hw, err := net.ParseMAC(string(text))
	if err != nil {
		return err
	}
	if len(hw) != 6 {
		return fmt.Errorf("invalid MAC %q: want 6 octets", string(text))
	}
	copy(m[:], hw)
	return nil
}

// PortList is a set of switch ports numbered 0..MaxPorts-1.
type PortList [MaxPorts / 64]uint64

// NewPortList builds a port list from port numbers.
func NewPortList(ports ...int) (PortList, error) {
	var l PortList
	for _, p := range ports {
		if err := l.Set(p); err != nil {
			return PortList{}, err
		}
	}
	return l, nil
}

func (l *PortList) Set(port int) error {
	if port < 0 || port >= MaxPorts {
		return fmt.Errorf("port %d out of range (0-%d)", port, MaxPorts-1)
	}
	l[port/64] |= 1 << (port % 64)
	return nil
}

func (l *PortList) Clear(port int) {
	if port >= 0 && port < MaxPorts {
		l[port/64] &^= 1 << (port % 64)
	}
}

func (l PortList) Has(port int) bool {
	return port >= 0 && port < MaxPorts && l[port/64]&(1<<(port%64)) != 0
}

func (l PortList) IsEmpty() bool {
	return l == PortList{}
}

func (l PortList) Count() int {
	n := 0
	for _, w := range l {
		n += bits.OnesCount64(w)
	}
	return n
}

// Ports returns the member ports in ascending order.
func (l PortList) Ports() []int {
	out := make([]int, 0, l.Count())
	for p := 0; p < MaxPorts; p++ {
		if l.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// String renders the list in range notation, e.g. "1-3,7".
func (l PortList) String() string {
	ports := l.Ports()
	if len(ports) == 0 {
		return "none"
	}
	var sb strings.Builder
	for i := 0; i < len(ports); {
		j := i
		for j+1 < len(ports) && ports[j+1] == ports[j]+1 {
			j++
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(ports[i]))
		if j > i {
			sb.WriteByte('-')
			sb.WriteString(strconv.Itoa(ports[j]))
		}
		i = j + 1
	}
	return sb.String()
}

// ParsePortList parses range notation as produced by String.
func ParsePortList(s string) (PortList, error) {
	var l PortList
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return l, nil
	}
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(strings.TrimSpace(part), "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return PortList{}, fmt.Errorf("invalid port %q", part)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil || b < a {
				return PortList{}, fmt.Errorf("invalid port range %q", part)
			}
		}
		for p := a; p <= b; p++ {
			if err := l.Set(p); err != nil {
				return PortList{}, err
			}
		}
	}
	return l, nil
}

func (l PortList) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Ports())
}

func (l *PortList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		pl, err := ParsePortList(s)
		if err != nil {
			return err
		}
		*l = pl
		return nil
	}
	var ports []int
	if err := json.Unmarshal(data, &ports); err != nil {
		return err
	}
	pl, err := NewPortList(ports...)
	if err != nil {
		return err
	}
	*l = pl
	return nil
}

// MarshalYAML renders the list as a sequence of port numbers.
func (l PortList) MarshalYAML() (any, error) {
	return l.Ports(), nil
}

// IPNetwork is an address with a prefix length. The prefix length is kept
// unvalidated so that out-of-range input can be reported by the engine.
type IPNetwork struct {
	Address   netip.Addr `json:"address"`
	PrefixLen uint8      `json:"prefix_len"`
}

func (n IPNetwork) String() string {
	if !n.Address.IsValid() {
		return ""
	}
	return n.Address.String() + "/" + strconv.Itoa(int(n.PrefixLen))
}

func (n IPNetwork) IsZero() bool {
	return !n.Address.IsValid() && n.PrefixLen == 0
}

func (n IPNetwork) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText parses "addr/len". A bare address gets a host prefix.
func (n *IPNetwork) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*n = IPNetwork{}
		return nil
	}
	addrPart, lenPart, hasLen := strings.Cut(s, "/")
	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return err
	}
	addr = addr.Unmap()
	plen := addr.BitLen()
	if hasLen {
		v, err := strconv.ParseUint(lenPart, 10, 8)
		if err != nil {
			return fmt.Errorf("invalid prefix length in %q", s)
		}
		plen = int(v)
	}
	*n = IPNetwork{Address: addr, PrefixLen: uint8(plen)}
	return nil
}

// Range matches a numeric field by value or inclusive range.
type Range struct {
	MatchType RangeMatchType `json:"match_type" yaml:"match_type" mapstructure:"match_type"`
	Low       uint16         `json:"low" yaml:"low" mapstructure:"low"`
	High      uint16         `json:"high" yaml:"high" mapstructure:"high"`
}

func (r Range) String() string {
	switch r.MatchType {
	case RangeMatchAny:
		return "any"
	case RangeMatchValue:
		return strconv.Itoa(int(r.Low))
	}
	return fmt.Sprintf("%d-%d", r.Low, r.High)
}

// IPProtocol matches the IP protocol field.
type IPProtocol struct {
	Type  IPProtocolType `json:"type" yaml:"type" mapstructure:"type"`
	Value uint8          `json:"value" yaml:"value" mapstructure:"value"`
}

// DMAC matches the destination MAC address.
type DMAC struct {
	MatchType DMACMatchType `json:"match_type" yaml:"match_type" mapstructure:"match_type"`
	Value     MAC           `json:"value" yaml:"value" mapstructure:"value"`
	Mask      MAC           `json:"mask" yaml:"mask" mapstructure:"mask"`
}

// SMAC matches the source MAC address on the bits set in Mask.
type SMAC struct {
	Value MAC `json:"value" yaml:"value" mapstructure:"value"`
	Mask  MAC `json:"mask" yaml:"mask" mapstructure:"mask"`
}

// VLANTag matches one VLAN tag.
type VLANTag struct {
	MatchType VLANTagMatchType `json:"match_type" yaml:"match_type" mapstructure:"match_type"`
	TagType   TagType          `json:"tag_type" yaml:"tag_type" mapstructure:"tag_type"`
	VIDValue  uint16           `json:"vid_value" yaml:"vid_value" mapstructure:"vid_value"`
	VIDMask   uint16           `json:"vid_mask" yaml:"vid_mask" mapstructure:"vid_mask"`
	PCPValue  uint8            `json:"pcp_value" yaml:"pcp_value" mapstructure:"pcp_value"`
	PCPMask   uint8            `json:"pcp_mask" yaml:"pcp_mask" mapstructure:"pcp_mask"`
	DEI       hal.Bit          `json:"dei" yaml:"dei" mapstructure:"dei"`
}

// Conf is the match specification of a stream. Conf values are comparable;
// two confs are equal exactly when they install the same rule.
type Conf struct {
	DMAC     DMAC
	SMAC     SMAC
	OuterTag VLANTag
	InnerTag VLANTag
	Protocol Protocol
	Ports    PortList
}

// ProtocolType returns the type of the protocol variant. A nil protocol is Any.
func (c Conf) ProtocolType() ProtocolType {
	if c.Protocol == nil {
		return ProtocolAny
	}
	return c.Protocol.Type()
}

// Action is what a client asks of a stream or collection. Only the part
// belonging to the client is used.
type Action struct {
	Enable bool `json:"enable" yaml:"enable" mapstructure:"enable"`

	// CutThroughOverride is set when the client has an opinion on the shared
	// cut-through bit. CutThroughDisable is that opinion.
	CutThroughOverride bool   `json:"cut_through_override" yaml:"cut_through_override" mapstructure:"cut_through_override"`
	CutThroughDisable  bool   `json:"cut_through_disable" yaml:"cut_through_disable" mapstructure:"cut_through_disable"`
	ClientID           uint32 `json:"client_id" yaml:"client_id" mapstructure:"client_id"`

	PSFP PSFPAction `json:"psfp" yaml:"psfp" mapstructure:"psfp"`
	FRER FRERAction `json:"frer" yaml:"frer" mapstructure:"frer"`
}

// PSFPAction holds the flow fields owned by the PSFP client.
type PSFPAction struct {
	DLBEnable bool             `json:"dlb_enable" yaml:"dlb_enable" mapstructure:"dlb_enable"`
	DLBID     uint32           `json:"dlb_id" yaml:"dlb_id" mapstructure:"dlb_id"`
	Flow      hal.PSFPFlowConf `json:"flow" yaml:"flow" mapstructure:"flow"`
}

// FRERAction holds the rule and flow fields owned by the FRER client.
type FRERAction struct {
	VID       uint16           `json:"vid" yaml:"vid" mapstructure:"vid"`
	PopEnable bool             `json:"pop_enable" yaml:"pop_enable" mapstructure:"pop_enable"`
	PopCount  uint8            `json:"pop_cnt" yaml:"pop_cnt" mapstructure:"pop_cnt"`
	Flow      hal.FRERFlowConf `json:"flow" yaml:"flow" mapstructure:"flow"`
}

// ClientStatus holds the last action set by each client.
type ClientStatus struct {
	PSFP Action `json:"psfp" yaml:"psfp"`
	FRER Action `json:"frer" yaml:"frer"`
}

// Client returns the action record of c.
func (s *ClientStatus) Client(c Client) *Action {
	if c == ClientFRER {
		return &s.FRER
	}
	return &s.PSFP
}

// AnyAttached reports whether at least one client is enabled.
func (s ClientStatus) AnyAttached() bool {
	return s.PSFP.Enable || s.FRER.Enable
}

// Attached counts the enabled clients.
func (s ClientStatus) Attached() int {
	n := 0
	if s.PSFP.Enable {
		n++
	}
	if s.FRER.Enable {
		n++
	}
	return n
}

// OperWarnings flags configuration problems of a stream.
type OperWarnings uint32

const (
	WarningNotInstalledOnAnyPort OperWarnings = 1 << iota
)

func (w OperWarnings) Strings() []string {
	out := []string{}
	if w&WarningNotInstalledOnAnyPort != 0 {
		out = append(out, "not-installed-on-any-port")
	}
	return out
}

func (w OperWarnings) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Strings())
}

// CollectionOperWarnings flags configuration problems of a collection.
type CollectionOperWarnings uint32

const (
	WarningNoStreamsAttached CollectionOperWarnings = 1 << iota
	WarningNoClientsAttached
	WarningStreamHasWarnings
)

func (w CollectionOperWarnings) Strings() []string {
	out := []string{}
	if w&WarningNoStreamsAttached != 0 {
		out = append(out, "no-streams-attached")
	}
	if w&WarningNoClientsAttached != 0 {
		out = append(out, "no-clients-attached")
	}
	if w&WarningStreamHasWarnings != 0 {
		out = append(out, "stream-has-warnings")
	}
	return out
}

func (w CollectionOperWarnings) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Strings())
}

// Status is the operational state of a stream.
type Status struct {
	CollectionID CollectionID `json:"collection_id"`
	OperWarnings OperWarnings `json:"oper_warnings"`
	ClientStatus ClientStatus `json:"client_status"`
}

// CollectionConf lists the member streams. Unused slots hold IDNone and
// always come last after normalization.
type CollectionConf struct {
	StreamIDs [StreamsPerCollectionMax]ID
}

// NewCollectionConf builds a conf from member ids.
func NewCollectionConf(ids ...ID) (CollectionConf, error) {
	var c CollectionConf
	if len(ids) > StreamsPerCollectionMax {
		return c, invalid(ErrInvalidParameter, "stream_ids", len(ids))
	}
	copy(c.StreamIDs[:], ids)
	return c, nil
}

// Members returns the ids in use in slot order.
func (c CollectionConf) Members() []ID {
	out := make([]ID, 0, StreamsPerCollectionMax)
	for _, id := range c.StreamIDs {
		if id != IDNone {
			out = append(out, id)
		}
	}
	return out
}

// Has reports whether id is a member.
func (c CollectionConf) Has(id ID) bool {
	return id != IDNone && slices.Contains(c.StreamIDs[:], id)
}

// Normalized removes duplicates and sorts the ids with IDNone last.
func (c CollectionConf) Normalized() CollectionConf {
	ids := c.StreamIDs
	for i := range ids {
		if ids[i] == IDNone {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			if ids[j] == ids[i] {
				ids[j] = IDNone
			}
		}
	}
	slices.SortFunc(ids[:], func(a, b ID) int {
		switch {
		case a == b:
			return 0
		case a == IDNone:
			return 1
		case b == IDNone:
			return -1
		case a < b:
			return -1
		}
		return 1
	})
	return CollectionConf{StreamIDs: ids}
}

type collectionConfDoc struct {
	StreamIDs []ID `json:"stream_ids"`
}

func (c CollectionConf) MarshalJSON() ([]byte, error) {
	return json.Marshal(collectionConfDoc{StreamIDs: c.Members()})
}

func (c *CollectionConf) UnmarshalJSON(data []byte) error {
	var doc collectionConfDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	conf, err := NewCollectionConf(doc.StreamIDs...)
	if err != nil {
		return err
	}
	*c = conf
	return nil
}

// CollectionStatus is the operational state of a collection.
type CollectionStatus struct {
	OperWarnings CollectionOperWarnings `json:"oper_warnings"`
	ClientStatus ClientStatus           `json:"client_status"`
}
