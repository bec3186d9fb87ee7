package stream

import (
	"fmt"

	"firestige.xyz/tsnstream/internal/errors"
)

// Code is a stream engine result code. Codes are comparable and are wrapped
// into kind-tagged errors by the engine, so callers can match them with
// errors.Is.
type Code int

const (
	ErrInvalidParameter Code = iota + 1
	ErrNoSuchID
	ErrHWResources
	ErrInternal
	ErrInvalidID
	ErrInvalidClient
	ErrInvalidDMACMatchType
	ErrInvalidDMACMask
	ErrInvalidUnicastSMAC
	ErrInvalidVLANMatchTypeOuterTag
	ErrInvalidVLANMatchTypeInnerTag
	ErrInvalidTagTypeOuterTag
	ErrInvalidTagTypeInnerTag
	ErrInvalidVIDValueOuterTag
	ErrInvalidVIDValueInnerTag
	ErrInvalidVIDMaskOuterTag
	ErrInvalidVIDMaskInnerTag
	ErrInvalidPCPValueOuterTag
	ErrInvalidPCPValueInnerTag
	ErrInvalidPCPMaskOuterTag
	ErrInvalidPCPMaskInnerTag
	ErrInvalidDEIOuterTag
	ErrInvalidDEIInnerTag
	ErrOuterUntaggedInnerTagged
	ErrInvalidEtherType
	ErrInvalidSNAPOUI
	ErrInvalidSNAPOUIType
	ErrInvalidSNAPPID
	ErrInvalidIPv4Fragment
	ErrIPv4DSCPOutOfRange
	ErrIPv4DSCPLowOutOfRange
	ErrIPv4DSCPHighOutOfRange
	ErrIPv4DSCPHighSmallerThanLow
	ErrIPv4DSCPMatchType
	ErrInvalidIPv4ProtoType
	ErrInvalidIPv4SIPPrefixSize
	ErrInvalidIPv4DIPPrefixSize
	ErrIPv4DPortHighSmallerThanLow
	ErrIPv4DPortMatchType
	ErrIPv6DSCPOutOfRange
	ErrIPv6DSCPLowOutOfRange
	ErrIPv6DSCPHighOutOfRange
	ErrIPv6DSCPHighSmallerThanLow
	ErrIPv6DSCPMatchType
	ErrInvalidIPv6ProtoType
	ErrInvalidIPv6SIPPrefixSize
	ErrInvalidIPv6DIPPrefixSize
	ErrIPv6DPortHighSmallerThanLow
	ErrIPv6DPortMatchType
	ErrInvalidProtocolType
	ErrOutOfMemory
	ErrCountersNotAllocated
	ErrPartOfCollection
	ErrCollectionInvalidID
	ErrCollectionNoSuchID
	ErrCollectionStreamIDDoesntExist
	ErrCollectionStreamPartOfOtherCollection
	ErrCollectionCountersNotAllocated
)

var codeText = map[Code]string{
	ErrInvalidParameter:                      "Invalid parameter",
	ErrNoSuchID:                              "No such stream ID",
	ErrHWResources:                           "Out of hardware resources",
	ErrInternal:                              "Internal error. A code-update is required. See log for details",
	ErrInvalidID:                             "Invalid stream ID",
	ErrInvalidClient:                         "Invalid client ID",
	ErrInvalidDMACMatchType:                  "Invalid DMAC match type",
	ErrInvalidDMACMask:                       "The DMAC mask cannot be all-zeros.",
	ErrInvalidUnicastSMAC:                    "The SMAC is not a unicast MAC address.",
	ErrInvalidVLANMatchTypeOuterTag:          "Invalid outer tag match type",
	ErrInvalidVLANMatchTypeInnerTag:          "Invalid inner tag match type",
	ErrInvalidTagTypeOuterTag:                "Invalid outer tag tag type",
	ErrInvalidTagTypeInnerTag:                "Invalid inner tag tag type",
	ErrInvalidVIDValueOuterTag:               "Invalid outer tag VLAN ID",
	ErrInvalidVIDValueInnerTag:               "Invalid inner tag VLAN ID",
	ErrInvalidVIDMaskOuterTag:                "Invalid outer tag VLAN mask",
	ErrInvalidVIDMaskInnerTag:                "Invalid inner tag VLAN mask",
	ErrInvalidPCPValueOuterTag:               "Invalid outer tag PCP value",
	ErrInvalidPCPValueInnerTag:               "Invalid inner tag PCP value",
	ErrInvalidPCPMaskOuterTag:                "Invalid outer tag PCP mask",
	ErrInvalidPCPMaskInnerTag:                "Invalid inner tag PCP mask",
	ErrInvalidDEIOuterTag:                    "Invalid outer tag DEI",
	ErrInvalidDEIInnerTag:                    "Invalid inner tag DEI",
	ErrOuterUntaggedInnerTagged:              "If outer-tag matches untagged frames, inner-tag cannot match tagged frames",
	ErrInvalidEtherType:                      "Invalid EtherType. Valid range is 0x600 - 0xFFFF",
	ErrInvalidSNAPOUI:                        "Invalid SNAP OUI. Valid range is 0x000000 - 0xFFFFFF",
	ErrInvalidSNAPOUIType:                    "Invalid SNAP OUI type",
	ErrInvalidSNAPPID:                        "If OUI is 00:00:00 (RFC-1042), the PID must be in range of EtherTypes (0x600 - 0xFFFF)",
	ErrInvalidIPv4Fragment:                   "Invalid IPv4 fragment",
	ErrIPv4DSCPOutOfRange:                    "IPv4's DSCP value is out of range (0-63)",
	ErrIPv4DSCPLowOutOfRange:                 "IPv4's DSCP range's low value is out of range (0-63)",
	ErrIPv4DSCPHighOutOfRange:                "IPv4's DSCP range's high value is out of range (0-63)",
	ErrIPv4DSCPHighSmallerThanLow:            "IPv4's DSCP's high range value is smaller than the low range value",
	ErrIPv4DSCPMatchType:                     "Invalid IPv4 DSCP match type value",
	ErrInvalidIPv4ProtoType:                  "IPv4's protocol type is invalid",
	ErrInvalidIPv4SIPPrefixSize:              "IPv4's source IP's prefix size out of range (0-32)",
	ErrInvalidIPv4DIPPrefixSize:              "IPv4's destination IP's prefix size out of range (0-32)",
	ErrIPv4DPortHighSmallerThanLow:           "IPv4's UDP/TCP destination port's high range value is smaller than the low range value",
	ErrIPv4DPortMatchType:                    "Invalid IPv4 UDP/TCP destination port match type value",
	ErrIPv6DSCPOutOfRange:                    "IPv6's DSCP value is out of range (0-63)",
	ErrIPv6DSCPLowOutOfRange:                 "IPv6's DSCP range's low value is out of range (0-63)",
	ErrIPv6DSCPHighOutOfRange:                "IPv6's DSCP range's high value is out of range (0-63)",
	ErrIPv6DSCPHighSmallerThanLow:            "IPv6's DSCP's high range value is smaller than the low range value",
	ErrIPv6DSCPMatchType:                     "Invalid IPv6 DSCP match type value",
	ErrInvalidIPv6ProtoType:                  "IPv6's protocol type is invalid",
	ErrInvalidIPv6SIPPrefixSize:              "IPv6's source IP's prefix size out of range (0-128)",
	ErrInvalidIPv6DIPPrefixSize:              "IPv6's destination IP's prefix size out of range (0-128)",
	ErrIPv6DPortHighSmallerThanLow:           "IPv6's UDP/TCP destination port's high range value is smaller than the low range value",
	ErrIPv6DPortMatchType:                    "Invalid IPv6 UDP/TCP destination port match type value",
	ErrInvalidProtocolType:                   "Invalid protocol type",
	ErrOutOfMemory:                           "Out of memory",
	ErrCountersNotAllocated:                  "Stream counters are not allocated, because no clients are attached",
	ErrPartOfCollection:                      "Stream is part of a stream collection. Cannot attach client directly",
	ErrCollectionInvalidID:                   "Invalid stream collection ID",
	ErrCollectionNoSuchID:                    "No such stream collection ID",
	ErrCollectionStreamIDDoesntExist:         "At least one of the configured stream IDs doesn't exist",
	ErrCollectionStreamPartOfOtherCollection: "At least one of the configured stream IDs is already part of another stream collection",
	ErrCollectionCountersNotAllocated:        "Stream collection counters are not allocated, because no clients are attached",
}

func (c Code) Error() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown stream error %d", int(c))
}

// Kind maps the code onto the error taxonomy.
func (c Code) Kind() errors.Kind {
	switch c {
	case ErrNoSuchID, ErrCollectionNoSuchID, ErrCollectionStreamIDDoesntExist,
		ErrCountersNotAllocated, ErrCollectionCountersNotAllocated:
		return errors.KindNotFound
	case ErrPartOfCollection, ErrCollectionStreamPartOfOtherCollection:
		return errors.KindConflict
	case ErrHWResources, ErrOutOfMemory:
		return errors.KindExhausted
	case ErrInternal:
		return errors.KindInternal
	}
	if _, ok := codeText[c]; ok {
		return errors.KindValidation
	}
	return errors.KindUnknown
}

// fail wraps a code into a kind-tagged error with a short context.
func fail(c Code, format string, args ...any) error {
	return errors.Wrapf(c, c.Kind(), format, args...)
}

// invalid reports a rejected field together with its offending value.
func invalid(c Code, field string, value any) error {
	err := errors.Wrap(c, c.Kind(), field)
	err = errors.Attr(err, "field", field)
	return errors.Attr(err, "value", value)
}

// CodeOf extracts the engine code from an error chain. It returns 0 when the
// chain carries none.
func CodeOf(err error) Code {
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return 0
}
