package stream

import (
	"fmt"
	"strings"

	"firestige.xyz/tsnstream/internal/hal"
)

// enumTable maps small integer enums to their text names.
type enumTable[T ~uint8] struct {
	kind  string
	names []string
}

func (t enumTable[T]) name(v T) string {
	if int(v) < len(t.names) {
		return t.names[v]
	}
	return fmt.Sprintf("%s(%d)", t.kind, uint8(v))
}

func (t enumTable[T]) valid(v T) bool {
	return int(v) < len(t.names)
}

func (t enumTable[T]) marshal(v T) ([]byte, error) {
	if !t.valid(v) {
		return nil, fmt.Errorf("invalid %s %d", t.kind, uint8(v))
	}
	return []byte(t.names[v]), nil
}

func (t enumTable[T]) parse(text []byte) (T, error) {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	s = strings.ReplaceAll(s, "_", "-")
	for i, n := range t.names {
		if n == s {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q (want one of %s)", t.kind, string(text), strings.Join(t.names, ", "))
}

// DMACMatchType selects how the destination MAC is matched.
type DMACMatchType uint8

const (
	DMACMatchAny DMACMatchType = iota
	DMACMatchMC
	DMACMatchBC
	DMACMatchUC
	DMACMatchNotBC
	DMACMatchNotUC
	DMACMatchValue
)

var dmacMatchTypes = enumTable[DMACMatchType]{"dmac match type", []string{"any", "mc", "bc", "uc", "not-bc", "not-uc", "value"}}

func (t DMACMatchType) String() string               { return dmacMatchTypes.name(t) }
func (t DMACMatchType) MarshalText() ([]byte, error) { return dmacMatchTypes.marshal(t) }
func (t *DMACMatchType) UnmarshalText(b []byte) (err error) {
	*t, err = dmacMatchTypes.parse(b)
	return err
}

// VLANTagMatchType selects whether frames must carry a tag.
type VLANTagMatchType uint8

const (
	// VLANTagMatchBoth matches tagged and untagged frames.
	VLANTagMatchBoth VLANTagMatchType = iota
	VLANTagMatchUntagged
	VLANTagMatchTagged
)

var vlanTagMatchTypes = enumTable[VLANTagMatchType]{"vlan tag match type", []string{"both", "untagged", "tagged"}}

func (t VLANTagMatchType) String() string               { return vlanTagMatchTypes.name(t) }
func (t VLANTagMatchType) MarshalText() ([]byte, error) { return vlanTagMatchTypes.marshal(t) }
func (t *VLANTagMatchType) UnmarshalText(b []byte) (err error) {
	*t, err = vlanTagMatchTypes.parse(b)
	return err
}

// TagType selects the tag encapsulation of a tagged match.
type TagType uint8

const (
	TagTypeAny TagType = iota
	TagTypeC
	TagTypeS
)

var tagTypes = enumTable[TagType]{"tag type", []string{"any", "c-tag", "s-tag"}}

func (t TagType) String() string               { return tagTypes.name(t) }
func (t TagType) MarshalText() ([]byte, error) { return tagTypes.marshal(t) }
func (t *TagType) UnmarshalText(b []byte) (err error) {
	*t, err = tagTypes.parse(b)
	return err
}

// SNAPOUIType classifies the SNAP organizationally unique identifier.
type SNAPOUIType uint8

const (
	// SNAPOUIRFC1042 is OUI 00-00-00.
	SNAPOUIRFC1042 SNAPOUIType = iota
	// SNAPOUI8021H is OUI 00-00-F8.
	SNAPOUI8021H
	SNAPOUICustom
)

const (
	ouiRFC1042 uint32 = 0x000000
	oui8021H   uint32 = 0x0000F8
)

var snapOUITypes = enumTable[SNAPOUIType]{"snap oui type", []string{"rfc1042", "8021h", "custom"}}

func (t SNAPOUIType) String() string               { return snapOUITypes.name(t) }
func (t SNAPOUIType) MarshalText() ([]byte, error) { return snapOUITypes.marshal(t) }
func (t *SNAPOUIType) UnmarshalText(b []byte) (err error) {
	*t, err = snapOUITypes.parse(b)
	return err
}

// RangeMatchType selects how a numeric field is matched.
type RangeMatchType uint8

const (
	RangeMatchAny RangeMatchType = iota
	RangeMatchValue
	RangeMatchRange
)

var rangeMatchTypes = enumTable[RangeMatchType]{"range match type", []string{"any", "value", "range"}}

func (t RangeMatchType) String() string               { return rangeMatchTypes.name(t) }
func (t RangeMatchType) MarshalText() ([]byte, error) { return rangeMatchTypes.marshal(t) }
func (t *RangeMatchType) UnmarshalText(b []byte) (err error) {
	*t, err = rangeMatchTypes.parse(b)
	return err
}

// IPProtocolType selects the L4 protocol match.
type IPProtocolType uint8

const (
	IPProtocolAny IPProtocolType = iota
	IPProtocolCustom
	IPProtocolTCP
	IPProtocolUDP
)

var ipProtocolTypes = enumTable[IPProtocolType]{"ip protocol type", []string{"any", "custom", "tcp", "udp"}}

func (t IPProtocolType) String() string               { return ipProtocolTypes.name(t) }
func (t IPProtocolType) MarshalText() ([]byte, error) { return ipProtocolTypes.marshal(t) }
func (t *IPProtocolType) UnmarshalText(b []byte) (err error) {
	*t, err = ipProtocolTypes.parse(b)
	return err
}

// ProtocolType discriminates the protocol variant of a stream.
type ProtocolType uint8

const (
	ProtocolAny ProtocolType = iota
	ProtocolEtherType
	ProtocolLLC
	ProtocolSNAP
	ProtocolIPv4
	ProtocolIPv6
)

var protocolTypes = enumTable[ProtocolType]{"protocol type", []string{"any", "etype", "llc", "snap", "ipv4", "ipv6"}}

func (t ProtocolType) String() string               { return protocolTypes.name(t) }
func (t ProtocolType) MarshalText() ([]byte, error) { return protocolTypes.marshal(t) }
func (t *ProtocolType) UnmarshalText(b []byte) (err error) {
	*t, err = protocolTypes.parse(b)
	return err
}

// FrameType returns the rule key type matching the protocol type.
func (t ProtocolType) FrameType() hal.FrameType {
	switch t {
	case ProtocolEtherType:
		return hal.FrameEtype
	case ProtocolLLC:
		return hal.FrameLLC
	case ProtocolSNAP:
		return hal.FrameSNAP
	case ProtocolIPv4:
		return hal.FrameIPv4
	case ProtocolIPv6:
		return hal.FrameIPv6
	}
	return hal.FrameAny
}

// Client identifies a consumer that attaches actions to a stream.
type Client uint8

const (
	// ClientPSFP is per-stream filtering and policing.
	ClientPSFP Client = iota
	// ClientFRER is frame replication and elimination.
	ClientFRER

	clientCount = 2
)

var clients = enumTable[Client]{"client", []string{"psfp", "frer"}}

func (c Client) String() string               { return clients.name(c) }
func (c Client) MarshalText() ([]byte, error) { return clients.marshal(c) }
func (c *Client) UnmarshalText(b []byte) (err error) {
	*c, err = clients.parse(b)
	return err
}

// Clients lists all client kinds.
func Clients() []Client {
	return []Client{ClientPSFP, ClientFRER}
}
