package stream

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsnstream/internal/hal"
)

func keyFor(t *testing.T, c Conf) hal.RuleKey {
	t.Helper()
	n, err := c.Normalize()
	require.NoError(t, err)
	sim := hal.NewSim(hal.DefaultSimConfig())
	return buildRuleKey(sim.RuleInit(n.ProtocolType().FrameType()).Key, n)
}

func TestBuildRuleKey_DMAC(t *testing.T) {
	tests := []struct {
		match  DMACMatchType
		mc, bc hal.Bit
	}{
		{DMACMatchAny, hal.BitAny, hal.BitAny},
		{DMACMatchMC, hal.Bit1, hal.Bit0},
		{DMACMatchBC, hal.Bit1, hal.Bit1},
		{DMACMatchUC, hal.Bit0, hal.Bit0},
		{DMACMatchNotBC, hal.BitAny, hal.Bit0},
		{DMACMatchNotUC, hal.Bit1, hal.BitAny},
	}
	for _, tt := range tests {
		t.Run(tt.match.String(), func(t *testing.T) {
			c := DefaultConf()
			c.DMAC.MatchType = tt.match
			k := keyFor(t, c)
			assert.Equal(t, tt.mc, k.MAC.DMACMC)
			assert.Equal(t, tt.bc, k.MAC.DMACBC)
		})
	}
}

func TestBuildRuleKey_IPv4(t *testing.T) {
	c := DefaultConf()
	c.Ports = mustPorts(t, 0, 5)
	c.OuterTag = VLANTag{MatchType: VLANTagMatchTagged, TagType: TagTypeC, VIDValue: 0x123, VIDMask: 0xFF0}
	c.Protocol = ProtoIPv4{
		SIP:   IPNetwork{Address: netip.MustParseAddr("10.1.2.3"), PrefixLen: 16},
		DIP:   IPNetwork{Address: netip.MustParseAddr("192.168.1.1"), PrefixLen: 32},
		DSCP:  Range{MatchType: RangeMatchRange, Low: 8, High: 15},
		Proto: IPProtocol{Type: IPProtocolUDP},
		DPort: Range{MatchType: RangeMatchValue, Low: 319},
	}

	k := keyFor(t, c)

	want := hal.IPv4Key{
		DSCP:  hal.Range{Low: 8, High: 15},
		Proto: hal.U8{Value: 17, Mask: 0xFF},
		SIP:   hal.IPMatch{Value: netip.MustParseAddr("10.1.0.0"), Mask: netip.MustParseAddr("255.255.0.0")},
		DIP:   hal.IPMatch{Value: netip.MustParseAddr("192.168.1.1"), Mask: netip.MustParseAddr("255.255.255.255")},
		DPort: hal.Range{Low: 319, High: 319},
	}
	if diff := cmp.Diff(want, k.Frame.IPv4, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Errorf("ipv4 key mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, hal.FrameIPv4, k.Type)
	assert.Equal(t, []int{0, 5}, k.Ports)
	assert.Equal(t, hal.TagKey{
		VID:    hal.U16{Value: 0x120, Mask: 0xFF0},
		Tagged: hal.Bit1,
		STag:   hal.Bit0,
	}, k.Tag)
	assert.Equal(t, hal.BitAny, k.InnerTag.Tagged)
}

func TestBuildRuleKey_AnyRangesKeepTemplate(t *testing.T) {
	c := DefaultConf()
	c.Protocol = ProtoIPv6{}
	k := keyFor(t, c)

	assert.True(t, k.Frame.IPv6.DSCP.Any)
	assert.True(t, k.Frame.IPv6.DPort.Any)
	assert.Equal(t, hal.U8{}, k.Frame.IPv6.Proto)
	assert.Equal(t, netip.IPv6Unspecified(), k.Frame.IPv6.SIP.Mask)
}

func TestBuildRuleKey_L2Protocols(t *testing.T) {
	c := DefaultConf()
	c.Protocol = ProtoEtherType{EtherType: 0x88F7}
	assert.Equal(t, hal.U16{Value: 0x88F7, Mask: 0xFFFF}, keyFor(t, c).Frame.Etype)

	c.Protocol = ProtoLLC{DSAP: 0x42, SSAP: 0x43}
	assert.Equal(t, [6]byte{0x42, 0x43}, keyFor(t, c).Frame.LLC.Value)

	c.Protocol = ProtoSNAP{OUIType: SNAPOUICustom, OUI: 0xF8, PID: 0x22F0}
	k := keyFor(t, c)
	assert.Equal(t, [6]byte{0x00, 0x00, 0xF8, 0x22, 0xF0}, k.Frame.SNAP.Value)
	assert.Equal(t, [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, k.Frame.SNAP.Mask)
}

func TestNormalize_SNAPCustomKnownOUI(t *testing.T) {
	c := DefaultConf()
	c.Protocol = ProtoSNAP{OUIType: SNAPOUICustom, OUI: 0, PID: 0x88F7}
	n, err := c.Normalize()
	require.NoError(t, err)
	assert.Equal(t, ProtoSNAP{OUIType: SNAPOUIRFC1042, OUI: 0, PID: 0x88F7}, n.Protocol)
}

func TestNormalize_ClearsUnusedTagFields(t *testing.T) {
	c := DefaultConf()
	c.OuterTag = VLANTag{MatchType: VLANTagMatchUntagged, VIDValue: 5, VIDMask: 0xFFF, PCPValue: 3}
	n, err := c.Normalize()
	require.NoError(t, err)
	assert.Equal(t, VLANTag{MatchType: VLANTagMatchUntagged}, n.OuterTag)
}

func TestConfJSON(t *testing.T) {
	doc := `{
		"dmac": {"match_type": "mc"},
		"outer_tag": {"match_type": "tagged", "tag_type": "s-tag", "vid_value": 10, "vid_mask": 4095},
		"protocol": {"type": "ipv6", "ipv6": {"sip": "2001:db8::1/32", "proto": {"type": "tcp"}, "dport": {"match_type": "range", "low": 100, "high": 200}}},
		"ports": "1-3,7"
	}`

	var c Conf
	require.NoError(t, json.Unmarshal([]byte(doc), &c))
	n, err := c.Normalize()
	require.NoError(t, err)

	ip, ok := n.Protocol.(ProtoIPv6)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("2001:db8::"), ip.SIP.Address)
	assert.Equal(t, uint8(32), ip.SIP.PrefixLen)
	assert.Equal(t, IPProtocolTCP, ip.Proto.Type)
	assert.Equal(t, []int{1, 2, 3, 7}, n.Ports.Ports())
	assert.Equal(t, TagTypeS, n.OuterTag.TagType)

	out, err := json.Marshal(n)
	require.NoError(t, err)
	var back Conf
	require.NoError(t, json.Unmarshal(out, &back))
	back, err = back.Normalize()
	require.NoError(t, err)
	assert.Equal(t, n, back)
}

func TestProtocolDoc_MissingVariantDefaults(t *testing.T) {
	p, err := ProtocolDoc{Type: ProtocolIPv4}.Protocol()
	require.NoError(t, err)
	assert.Equal(t, netip.IPv4Unspecified(), p.(ProtoIPv4).SIP.Address)

	_, err = ProtocolDoc{Type: ProtocolType(9)}.Protocol()
	assert.ErrorIs(t, err, ErrInvalidProtocolType)
}

func TestNormalize_RejectsPointerProtocols(t *testing.T) {
	for _, p := range []Protocol{
		(*ProtoIPv4)(nil),
		(*ProtoIPv6)(nil),
		(*ProtoAny)(nil),
		&ProtoEtherType{EtherType: 0x88f7},
	} {
		c := DefaultConf()
		c.Protocol = p
		var err error
		require.NotPanics(t, func() { _, err = c.Normalize() }, "%T", p)
		assert.ErrorIs(t, err, ErrInvalidProtocolType, "%T", p)
	}
}
