package stream

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket/layers"

	"firestige.xyz/tsnstream/internal/errors"
	"firestige.xyz/tsnstream/internal/hal"
)

const (
	minEtherType = 0x600
	maxDSCP      = 63
	maxVID       = 4095
	maxPCP       = 7
	maxOUI       = 0xFFFFFF
)

// Normalize validates c and returns its canonical form. Fields that cannot
// influence the match are cleared and values are pre-masked, so normalizing
// a normalized conf is the identity. No partial result is returned on error.
func (c Conf) Normalize() (Conf, error) {
	out := c

	switch out.DMAC.MatchType {
	case DMACMatchAny, DMACMatchMC, DMACMatchBC, DMACMatchUC, DMACMatchNotBC, DMACMatchNotUC:
		out.DMAC.Value = MAC{}
		out.DMAC.Mask = MAC{}
	case DMACMatchValue:
		out.DMAC.Value = out.DMAC.Value.And(out.DMAC.Mask)
		if out.DMAC.Mask.IsZero() {
			return Conf{}, invalid(ErrInvalidDMACMask, "dmac.mask", out.DMAC.Mask.String())
		}
	default:
		return Conf{}, invalid(ErrInvalidDMACMatchType, "dmac.match_type", uint8(out.DMAC.MatchType))
	}

	out.SMAC.Value = out.SMAC.Value.And(out.SMAC.Mask)
	if !out.SMAC.Value.IsUnicast() {
		return Conf{}, invalid(ErrInvalidUnicastSMAC, "smac.value", out.SMAC.Value.String())
	}

	var err error
	if out.OuterTag, err = normalizeTag(out.OuterTag, true); err != nil {
		return Conf{}, err
	}
	if out.InnerTag, err = normalizeTag(out.InnerTag, false); err != nil {
		return Conf{}, err
	}
	if out.OuterTag.MatchType == VLANTagMatchUntagged && out.InnerTag.MatchType == VLANTagMatchTagged {
		return Conf{}, fail(ErrOuterUntaggedInnerTagged, "inner_tag")
	}

	if out.Protocol, err = normalizeProtocol(out.Protocol); err != nil {
		return Conf{}, err
	}
	return out, nil
}

type tagCodes struct {
	matchType, tagType, vid, vidMask, pcp, pcpMask, dei Code
	prefix                                              string
}

var (
	outerTagCodes = tagCodes{
		ErrInvalidVLANMatchTypeOuterTag, ErrInvalidTagTypeOuterTag,
		ErrInvalidVIDValueOuterTag, ErrInvalidVIDMaskOuterTag,
		ErrInvalidPCPValueOuterTag, ErrInvalidPCPMaskOuterTag,
		ErrInvalidDEIOuterTag, "outer_tag",
	}
	innerTagCodes = tagCodes{
		ErrInvalidVLANMatchTypeInnerTag, ErrInvalidTagTypeInnerTag,
		ErrInvalidVIDValueInnerTag, ErrInvalidVIDMaskInnerTag,
		ErrInvalidPCPValueInnerTag, ErrInvalidPCPMaskInnerTag,
		ErrInvalidDEIInnerTag, "inner_tag",
	}
)

func normalizeTag(t VLANTag, outer bool) (VLANTag, error) {
	codes := innerTagCodes
	if outer {
		codes = outerTagCodes
	}
	field := func(name string) string { return codes.prefix + "." + name }

	switch t.MatchType {
	case VLANTagMatchBoth, VLANTagMatchUntagged:
		// Nothing else can be matched, so keep only the match type.
		return VLANTag{MatchType: t.MatchType}, nil
	case VLANTagMatchTagged:
	default:
		return VLANTag{}, invalid(codes.matchType, field("match_type"), uint8(t.MatchType))
	}

	if !tagTypes.valid(t.TagType) {
		return VLANTag{}, invalid(codes.tagType, field("tag_type"), uint8(t.TagType))
	}
	if t.VIDValue > maxVID {
		return VLANTag{}, withRange(invalid(codes.vid, field("vid_value"), t.VIDValue), 0, maxVID)
	}
	if t.VIDMask > maxVID {
		return VLANTag{}, withRange(invalid(codes.vidMask, field("vid_mask"), t.VIDMask), 0, maxVID)
	}
	if t.PCPValue > maxPCP {
		return VLANTag{}, withRange(invalid(codes.pcp, field("pcp_value"), t.PCPValue), 0, maxPCP)
	}
	if t.PCPMask > maxPCP {
		return VLANTag{}, withRange(invalid(codes.pcpMask, field("pcp_mask"), t.PCPMask), 0, maxPCP)
	}
	if t.DEI > hal.Bit1 {
		return VLANTag{}, invalid(codes.dei, field("dei"), uint8(t.DEI))
	}

	t.VIDValue &= t.VIDMask
	t.PCPValue &= t.PCPMask
	return t, nil
}

func withRange(err error, lo, hi int) error {
	return errors.Attr(err, "range", [2]int{lo, hi})
}

type ipCodes struct {
	dscpOutOfRange, dscpLow, dscpHigh, dscpHighSmaller, dscpMatchType Code
	protoType, sipPrefix, dipPrefix, dportHighSmaller, dportMatchType Code
	prefix                                                             string
	bits                                                               int
}

var (
	ipv4Codes = ipCodes{
		ErrIPv4DSCPOutOfRange, ErrIPv4DSCPLowOutOfRange, ErrIPv4DSCPHighOutOfRange,
		ErrIPv4DSCPHighSmallerThanLow, ErrIPv4DSCPMatchType,
		ErrInvalidIPv4ProtoType, ErrInvalidIPv4SIPPrefixSize, ErrInvalidIPv4DIPPrefixSize,
		ErrIPv4DPortHighSmallerThanLow, ErrIPv4DPortMatchType,
		"protocol.ipv4", 32,
	}
	ipv6Codes = ipCodes{
		ErrIPv6DSCPOutOfRange, ErrIPv6DSCPLowOutOfRange, ErrIPv6DSCPHighOutOfRange,
		ErrIPv6DSCPHighSmallerThanLow, ErrIPv6DSCPMatchType,
		ErrInvalidIPv6ProtoType, ErrInvalidIPv6SIPPrefixSize, ErrInvalidIPv6DIPPrefixSize,
		ErrIPv6DPortHighSmallerThanLow, ErrIPv6DPortMatchType,
		"protocol.ipv6", 128,
	}
)

func normalizeDSCP(r Range, codes ipCodes) (Range, error) {
	field := codes.prefix + ".dscp"
	switch r.MatchType {
	case RangeMatchAny:
		return Range{MatchType: RangeMatchAny}, nil
	case RangeMatchValue:
		if r.Low > maxDSCP {
			return Range{}, withRange(invalid(codes.dscpOutOfRange, field, r.Low), 0, maxDSCP)
		}
		r.High = r.Low
		return r, nil
	case RangeMatchRange:
		if r.Low > maxDSCP {
			return Range{}, withRange(invalid(codes.dscpLow, field+".low", r.Low), 0, maxDSCP)
		}
		if r.High > maxDSCP {
			return Range{}, withRange(invalid(codes.dscpHigh, field+".high", r.High), 0, maxDSCP)
		}
		if r.High < r.Low {
			return Range{}, invalid(codes.dscpHighSmaller, field, r.String())
		}
		if r.Low == r.High {
			r.MatchType = RangeMatchValue
		}
		return r, nil
	}
	return Range{}, invalid(codes.dscpMatchType, field+".match_type", uint8(r.MatchType))
}

func normalizeIPProto(p IPProtocol, codes ipCodes) (IPProtocol, error) {
	switch p.Type {
	case IPProtocolAny:
		return IPProtocol{Type: IPProtocolAny}, nil
	case IPProtocolCustom:
		// Well-known values are reported by name.
		switch layers.IPProtocol(p.Value) {
		case layers.IPProtocolTCP:
			p.Type = IPProtocolTCP
		case layers.IPProtocolUDP:
			p.Type = IPProtocolUDP
		}
		return p, nil
	case IPProtocolTCP:
		return IPProtocol{Type: IPProtocolTCP, Value: uint8(layers.IPProtocolTCP)}, nil
	case IPProtocolUDP:
		return IPProtocol{Type: IPProtocolUDP, Value: uint8(layers.IPProtocolUDP)}, nil
	}
	return IPProtocol{}, invalid(codes.protoType, codes.prefix+".proto.type", uint8(p.Type))
}

// normalizeDPort requires proto to be normalized already.
func normalizeDPort(r Range, proto IPProtocol, codes ipCodes) (Range, error) {
	if proto.Type != IPProtocolTCP && proto.Type != IPProtocolUDP {
		return Range{MatchType: RangeMatchAny}, nil
	}
	field := codes.prefix + ".dport"
	switch r.MatchType {
	case RangeMatchAny:
		return Range{MatchType: RangeMatchAny}, nil
	case RangeMatchValue:
		r.High = r.Low
		return r, nil
	case RangeMatchRange:
		if r.High < r.Low {
			return Range{}, invalid(codes.dportHighSmaller, field, r.String())
		}
		if r.Low == r.High {
			r.MatchType = RangeMatchValue
		}
		return r, nil
	}
	return Range{}, invalid(codes.dportMatchType, field+".match_type", uint8(r.MatchType))
}

// normalizeNetwork masks the address by its prefix. An unset address becomes
// the unspecified address of the family.
func normalizeNetwork(n IPNetwork, prefixCode Code, field string, codes ipCodes) (IPNetwork, error) {
	if int(n.PrefixLen) > codes.bits {
		return IPNetwork{}, withRange(invalid(prefixCode, field, n.PrefixLen), 0, codes.bits)
	}
	addr := n.Address
	if !addr.IsValid() {
		if codes.bits == 32 {
			addr = netip.IPv4Unspecified()
		} else {
			addr = netip.IPv6Unspecified()
		}
	}
	if codes.bits == 32 {
		addr = addr.Unmap()
	}
	if addr.BitLen() != codes.bits {
		return IPNetwork{}, invalid(ErrInvalidParameter, field, addr.String())
	}
	prefix, err := addr.Prefix(int(n.PrefixLen))
	if err != nil {
		return IPNetwork{}, invalid(prefixCode, field, n.PrefixLen)
	}
	return IPNetwork{Address: prefix.Addr(), PrefixLen: n.PrefixLen}, nil
}

func normalizeProtocol(p Protocol) (Protocol, error) {
	if p == nil {
		return ProtoAny{}, nil
	}

	switch v := p.(type) {
	case ProtoAny:
		return v, nil

	case ProtoEtherType:
		if v.EtherType < minEtherType {
			return nil, withRange(invalid(ErrInvalidEtherType, "protocol.etype", v.EtherType), minEtherType, 0xFFFF)
		}
		return v, nil

	case ProtoLLC:
		return v, nil

	case ProtoSNAP:
		if v.OUIType == SNAPOUICustom {
			switch v.OUI {
			case ouiRFC1042:
				v.OUIType = SNAPOUIRFC1042
			case oui8021H:
				v.OUIType = SNAPOUI8021H
			default:
				if v.OUI > maxOUI {
					return nil, withRange(invalid(ErrInvalidSNAPOUI, "protocol.snap.oui", v.OUI), 0, maxOUI)
				}
			}
		}
		switch v.OUIType {
		case SNAPOUIRFC1042:
			v.OUI = ouiRFC1042
		case SNAPOUI8021H:
			v.OUI = oui8021H
		case SNAPOUICustom:
		default:
			return nil, invalid(ErrInvalidSNAPOUIType, "protocol.snap.oui_type", uint8(v.OUIType))
		}
		// With the RFC-1042 OUI the PID is an EtherType.
		if v.OUIType == SNAPOUIRFC1042 && v.PID < minEtherType {
			return nil, withRange(invalid(ErrInvalidSNAPPID, "protocol.snap.pid", v.PID), minEtherType, 0xFFFF)
		}
		return v, nil

	case ProtoIPv4:
		var err error
		c := ipv4Codes
		if v.SIP, err = normalizeNetwork(v.SIP, c.sipPrefix, c.prefix+".sip", c); err != nil {
			return nil, err
		}
		if v.DIP, err = normalizeNetwork(v.DIP, c.dipPrefix, c.prefix+".dip", c); err != nil {
			return nil, err
		}
		if v.DSCP, err = normalizeDSCP(v.DSCP, c); err != nil {
			return nil, err
		}
		if v.Fragment > hal.Bit1 {
			return nil, invalid(ErrInvalidIPv4Fragment, c.prefix+".fragment", uint8(v.Fragment))
		}
		if v.Proto, err = normalizeIPProto(v.Proto, c); err != nil {
			return nil, err
		}
		if v.DPort, err = normalizeDPort(v.DPort, v.Proto, c); err != nil {
			return nil, err
		}
		return v, nil

	case ProtoIPv6:
		var err error
		c := ipv6Codes
		if v.SIP, err = normalizeNetwork(v.SIP, c.sipPrefix, c.prefix+".sip", c); err != nil {
			return nil, err
		}
		if v.DIP, err = normalizeNetwork(v.DIP, c.dipPrefix, c.prefix+".dip", c); err != nil {
			return nil, err
		}
		if v.DSCP, err = normalizeDSCP(v.DSCP, c); err != nil {
			return nil, err
		}
		if v.Proto, err = normalizeIPProto(v.Proto, c); err != nil {
			return nil, err
		}
		if v.DPort, err = normalizeDPort(v.DPort, v.Proto, c); err != nil {
			return nil, err
		}
		return v, nil
	}

	// Pointer variants, nil or not, are not protocols the translator knows.
	// Type() is not called here since a nil pointer would panic.
	return nil, invalid(ErrInvalidProtocolType, "protocol.type", fmt.Sprintf("%T", p))
}
