package stream

import (
	"encoding/json"
)

// ProtocolDoc is the serialized form of a Protocol. Only the member matching
// Type is read; a missing member means the variant defaults.
type ProtocolDoc struct {
	Type  ProtocolType    `json:"type" yaml:"type" mapstructure:"type"`
	Etype *ProtoEtherType `json:"etype,omitempty" yaml:"etype,omitempty" mapstructure:"etype"`
	LLC   *ProtoLLC       `json:"llc,omitempty" yaml:"llc,omitempty" mapstructure:"llc"`
	SNAP  *ProtoSNAP      `json:"snap,omitempty" yaml:"snap,omitempty" mapstructure:"snap"`
	IPv4  *ProtoIPv4      `json:"ipv4,omitempty" yaml:"ipv4,omitempty" mapstructure:"ipv4"`
	IPv6  *ProtoIPv6      `json:"ipv6,omitempty" yaml:"ipv6,omitempty" mapstructure:"ipv6"`
}

// ConfDoc is the serialized form of a stream Conf, shared by the
// configuration file, the store and the control channel.
type ConfDoc struct {
	DMAC     DMAC        `json:"dmac" yaml:"dmac" mapstructure:"dmac"`
	SMAC     SMAC        `json:"smac" yaml:"smac" mapstructure:"smac"`
	OuterTag VLANTag     `json:"outer_tag" yaml:"outer_tag" mapstructure:"outer_tag"`
	InnerTag VLANTag     `json:"inner_tag" yaml:"inner_tag" mapstructure:"inner_tag"`
	Protocol ProtocolDoc `json:"protocol" yaml:"protocol" mapstructure:"protocol"`
	Ports    PortList    `json:"ports" yaml:"ports" mapstructure:"ports"`
}

// DocOf returns the serialized form of p.
func DocOf(p Protocol) ProtocolDoc {
	switch v := p.(type) {
	case ProtoEtherType:
		return ProtocolDoc{Type: ProtocolEtherType, Etype: &v}
	case ProtoLLC:
		return ProtocolDoc{Type: ProtocolLLC, LLC: &v}
	case ProtoSNAP:
		return ProtocolDoc{Type: ProtocolSNAP, SNAP: &v}
	case ProtoIPv4:
		return ProtocolDoc{Type: ProtocolIPv4, IPv4: &v}
	case ProtoIPv6:
		return ProtocolDoc{Type: ProtocolIPv6, IPv6: &v}
	}
	return ProtocolDoc{Type: ProtocolAny}
}

// Protocol builds the protocol variant described by d.
func (d ProtocolDoc) Protocol() (Protocol, error) {
	p, err := DefaultProtocol(d.Type)
	if err != nil {
		return nil, err
	}
	switch d.Type {
	case ProtocolEtherType:
		if d.Etype != nil {
			p = *d.Etype
		}
	case ProtocolLLC:
		if d.LLC != nil {
			p = *d.LLC
		}
	case ProtocolSNAP:
		if d.SNAP != nil {
			p = *d.SNAP
		}
	case ProtocolIPv4:
		if d.IPv4 != nil {
			p = *d.IPv4
		}
	case ProtocolIPv6:
		if d.IPv6 != nil {
			p = *d.IPv6
		}
	}
	return p, nil
}

// Doc returns the serialized form of c.
func (c Conf) Doc() ConfDoc {
	return ConfDoc{
		DMAC:     c.DMAC,
		SMAC:     c.SMAC,
		OuterTag: c.OuterTag,
		InnerTag: c.InnerTag,
		Protocol: DocOf(c.Protocol),
		Ports:    c.Ports,
	}
}

// Conf converts the document back. The result is not normalized.
func (d ConfDoc) Conf() (Conf, error) {
	p, err := d.Protocol.Protocol()
	if err != nil {
		return Conf{}, err
	}
	return Conf{
		DMAC:     d.DMAC,
		SMAC:     d.SMAC,
		OuterTag: d.OuterTag,
		InnerTag: d.InnerTag,
		Protocol: p,
		Ports:    d.Ports,
	}, nil
}

func (c Conf) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Doc())
}

func (c *Conf) UnmarshalJSON(data []byte) error {
	var d ConfDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	conf, err := d.Conf()
	if err != nil {
		return err
	}
	*c = conf
	return nil
}

// MarshalYAML renders c through its document form.
func (c Conf) MarshalYAML() (any, error) {
	return c.Doc(), nil
}
