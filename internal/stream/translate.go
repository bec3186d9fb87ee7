package stream

import (
	"net/netip"

	"firestige.xyz/tsnstream/internal/hal"
)

// buildRuleKey fills the key template returned by the switch for the conf's
// frame type. c must be normalized.
func buildRuleKey(base hal.RuleKey, c Conf) hal.RuleKey {
	k := base
	k.Ports = c.Ports.Ports()

	// | MC  | BC  | matches      |
	// |-----|-----|--------------|
	// | any | any | UC + MC + BC |
	// | any | 0   | UC + MC      |
	// | 1   | 1   | BC           |
	// | 0   | 0   | UC           |
	// | 1   | 0   | MC           |
	// | 1   | any | MC + BC      |
	switch c.DMAC.MatchType {
	case DMACMatchAny:
		k.MAC.DMACMC, k.MAC.DMACBC = hal.BitAny, hal.BitAny
	case DMACMatchMC:
		k.MAC.DMACMC, k.MAC.DMACBC = hal.Bit1, hal.Bit0
	case DMACMatchBC:
		k.MAC.DMACMC, k.MAC.DMACBC = hal.Bit1, hal.Bit1
	case DMACMatchUC:
		k.MAC.DMACMC, k.MAC.DMACBC = hal.Bit0, hal.Bit0
	case DMACMatchNotBC:
		k.MAC.DMACMC, k.MAC.DMACBC = hal.BitAny, hal.Bit0
	case DMACMatchNotUC:
		k.MAC.DMACMC, k.MAC.DMACBC = hal.Bit1, hal.BitAny
	case DMACMatchValue:
		k.MAC.DMAC = hal.U48{Value: c.DMAC.Value, Mask: c.DMAC.Mask}
	}
	k.MAC.SMAC = hal.U48{Value: c.SMAC.Value, Mask: c.SMAC.Mask}

	k.Tag = tagKey(c.OuterTag)
	k.InnerTag = tagKey(c.InnerTag)

	switch p := c.Protocol.(type) {
	case ProtoEtherType:
		k.Frame.Etype = hal.U16{Value: p.EtherType, Mask: 0xFFFF}

	case ProtoLLC:
		k.Frame.LLC = hal.U48{
			Value: [6]byte{p.DSAP, p.SSAP},
			Mask:  [6]byte{0xFF, 0xFF},
		}

	case ProtoSNAP:
		k.Frame.SNAP = hal.U48{
			Value: [6]byte{byte(p.OUI >> 16), byte(p.OUI >> 8), byte(p.OUI), byte(p.PID >> 8), byte(p.PID)},
			Mask:  [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		}

	case ProtoIPv4:
		m := &k.Frame.IPv4
		m.Fragment = p.Fragment
		m.DSCP = rangeKey(m.DSCP, p.DSCP)
		if p.Proto.Type != IPProtocolAny {
			m.Proto = hal.U8{Value: p.Proto.Value, Mask: 0xFF}
		}
		m.SIP = ipMatch(p.SIP)
		m.DIP = ipMatch(p.DIP)
		m.DPort = rangeKey(m.DPort, p.DPort)

	case ProtoIPv6:
		m := &k.Frame.IPv6
		m.DSCP = rangeKey(m.DSCP, p.DSCP)
		if p.Proto.Type != IPProtocolAny {
			m.Proto = hal.U8{Value: p.Proto.Value, Mask: 0xFF}
		}
		m.SIP = ipMatch(p.SIP)
		m.DIP = ipMatch(p.DIP)
		m.DPort = rangeKey(m.DPort, p.DPort)
	}

	return k
}

func tagKey(t VLANTag) hal.TagKey {
	k := hal.TagKey{
		VID: hal.U16{Value: t.VIDValue, Mask: t.VIDMask},
		PCP: hal.U8{Value: t.PCPValue, Mask: t.PCPMask},
		DEI: t.DEI,
	}
	switch t.MatchType {
	case VLANTagMatchBoth:
		k.Tagged = hal.BitAny
	case VLANTagMatchTagged:
		k.Tagged = hal.Bit1
	default:
		k.Tagged = hal.Bit0
	}
	switch t.TagType {
	case TagTypeAny:
		k.STag = hal.BitAny
	case TagTypeC:
		k.STag = hal.Bit0
	default:
		k.STag = hal.Bit1
	}
	return k
}

// rangeKey leaves the template untouched for an Any match.
func rangeKey(def hal.Range, r Range) hal.Range {
	if r.MatchType == RangeMatchAny {
		return def
	}
	return hal.Range{Low: r.Low, High: r.High}
}

func ipMatch(n IPNetwork) hal.IPMatch {
	return hal.IPMatch{Value: n.Address, Mask: prefixMask(n.Address.BitLen(), int(n.PrefixLen))}
}

// prefixMask returns the netmask of a prefix length as an address.
func prefixMask(bitLen, prefixLen int) netip.Addr {
	var b [16]byte
	for i := 0; i < prefixLen && i < bitLen; i++ {
		b[i/8] |= 0x80 >> (i % 8)
	}
	if bitLen == 32 {
		return netip.AddrFrom4([4]byte(b[:4]))
	}
	return netip.AddrFrom16(b)
}
