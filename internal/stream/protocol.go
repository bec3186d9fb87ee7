package stream

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket/layers"

	"firestige.xyz/tsnstream/internal/hal"
)

// Protocol is the protocol part of a stream match. It is one of ProtoAny,
// ProtoEtherType, ProtoLLC, ProtoSNAP, ProtoIPv4 or ProtoIPv6. Values are
// built from DefaultProtocol so that no field of another variant survives a
// change of type.
type Protocol interface {
	Type() ProtocolType
	String() string
	isProtocol()
}

// ProtoAny matches any frame.
type ProtoAny struct{}

// ProtoEtherType matches an EtherType. Valid values are 0x600 and up.
type ProtoEtherType struct {
	EtherType uint16 `json:"etype" yaml:"etype" mapstructure:"etype"`
}

// ProtoLLC matches an LLC header.
type ProtoLLC struct {
	DSAP uint8 `json:"dsap" yaml:"dsap" mapstructure:"dsap"`
	SSAP uint8 `json:"ssap" yaml:"ssap" mapstructure:"ssap"`
}

// ProtoSNAP matches a SNAP header.
type ProtoSNAP struct {
	OUIType SNAPOUIType `json:"oui_type" yaml:"oui_type" mapstructure:"oui_type"`
	OUI     uint32      `json:"oui" yaml:"oui" mapstructure:"oui"`
	PID     uint16      `json:"pid" yaml:"pid" mapstructure:"pid"`
}

// ProtoIPv4 matches IPv4 frames.
type ProtoIPv4 struct {
	SIP      IPNetwork  `json:"sip" yaml:"sip" mapstructure:"sip"`
	DIP      IPNetwork  `json:"dip" yaml:"dip" mapstructure:"dip"`
	DSCP     Range      `json:"dscp" yaml:"dscp" mapstructure:"dscp"`
	Fragment hal.Bit    `json:"fragment" yaml:"fragment" mapstructure:"fragment"`
	Proto    IPProtocol `json:"proto" yaml:"proto" mapstructure:"proto"`
	DPort    Range      `json:"dport" yaml:"dport" mapstructure:"dport"`
}

// ProtoIPv6 matches IPv6 frames.
type ProtoIPv6 struct {
	SIP   IPNetwork  `json:"sip" yaml:"sip" mapstructure:"sip"`
	DIP   IPNetwork  `json:"dip" yaml:"dip" mapstructure:"dip"`
	DSCP  Range      `json:"dscp" yaml:"dscp" mapstructure:"dscp"`
	Proto IPProtocol `json:"proto" yaml:"proto" mapstructure:"proto"`
	DPort Range      `json:"dport" yaml:"dport" mapstructure:"dport"`
}

func (ProtoAny) Type() ProtocolType       { return ProtocolAny }
func (ProtoEtherType) Type() ProtocolType { return ProtocolEtherType }
func (ProtoLLC) Type() ProtocolType       { return ProtocolLLC }
func (ProtoSNAP) Type() ProtocolType      { return ProtocolSNAP }
func (ProtoIPv4) Type() ProtocolType      { return ProtocolIPv4 }
func (ProtoIPv6) Type() ProtocolType      { return ProtocolIPv6 }

func (ProtoAny) isProtocol()       {}
func (ProtoEtherType) isProtocol() {}
func (ProtoLLC) isProtocol()       {}
func (ProtoSNAP) isProtocol()      {}
func (ProtoIPv4) isProtocol()      {}
func (ProtoIPv6) isProtocol()      {}

func (ProtoAny) String() string { return "any" }

func (p ProtoEtherType) String() string {
	return fmt.Sprintf("etype 0x%04x (%s)", p.EtherType, layers.EthernetType(p.EtherType))
}

func (p ProtoLLC) String() string {
	return fmt.Sprintf("llc dsap 0x%02x ssap 0x%02x", p.DSAP, p.SSAP)
}

func (p ProtoSNAP) String() string {
	return fmt.Sprintf("snap %s oui 0x%06x pid 0x%04x", p.OUIType, p.OUI, p.PID)
}

func (p ProtoIPv4) String() string {
	return fmt.Sprintf("ipv4 sip %s dip %s dscp %s fragment %s proto %s dport %s",
		p.SIP, p.DIP, p.DSCP, p.Fragment, ipProtoString(p.Proto), p.DPort)
}

func (p ProtoIPv6) String() string {
	return fmt.Sprintf("ipv6 sip %s dip %s dscp %s proto %s dport %s",
		p.SIP, p.DIP, p.DSCP, ipProtoString(p.Proto), p.DPort)
}

func ipProtoString(p IPProtocol) string {
	if p.Type == IPProtocolAny {
		return "any"
	}
	return fmt.Sprintf("%d (%s)", p.Value, layers.IPProtocol(p.Value))
}

// DefaultProtocol returns the default value of the protocol variant t.
// Addresses of the IP variants are the unspecified address of their family.
func DefaultProtocol(t ProtocolType) (Protocol, error) {
	switch t {
	case ProtocolAny:
		return ProtoAny{}, nil
	case ProtocolEtherType:
		return ProtoEtherType{}, nil
	case ProtocolLLC:
		return ProtoLLC{}, nil
	case ProtocolSNAP:
		return ProtoSNAP{}, nil
	case ProtocolIPv4:
		return ProtoIPv4{
			SIP: IPNetwork{Address: netip.IPv4Unspecified()},
			DIP: IPNetwork{Address: netip.IPv4Unspecified()},
		}, nil
	case ProtocolIPv6:
		return ProtoIPv6{
			SIP: IPNetwork{Address: netip.IPv6Unspecified()},
			DIP: IPNetwork{Address: netip.IPv6Unspecified()},
		}, nil
	}
	return nil, invalid(ErrInvalidProtocolType, "protocol.type", uint8(t))
}

// DefaultConf returns the default stream conf: match everything, on no ports.
func DefaultConf() Conf {
	return Conf{
		OuterTag: VLANTag{MatchType: VLANTagMatchBoth},
		InnerTag: VLANTag{MatchType: VLANTagMatchBoth},
		Protocol: ProtoAny{},
	}
}
