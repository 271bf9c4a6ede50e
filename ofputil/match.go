package ofputil

import (
	"bytes"
	"fmt"
	"net"

	"github.com/netflowctl/ofcore/internal/encoding"
	"github.com/netflowctl/ofcore/ofp"
)

func bytesOf(v interface{}) []byte {
	var buf bytes.Buffer

	_, err := encoding.WriteTo(&buf, v)
	if err != nil {
		text := "ofputil: unable to marshal %v"
		panic(fmt.Errorf(text, err))
	}

	return buf.Bytes()
}

func ExtendedMatch(xms ...ofp.XM) ofp.Match {
	return ofp.Match{ofp.MatchTypeXM, xms}
}

// basic creates an Openflow basic extensible match of the given type.
func basic(t ofp.XMType, val ofp.XMValue, mask ofp.XMValue) ofp.XM {
	return ofp.XM{
		Class: ofp.XMClassOpenflowBasic,
		Type:  t, Value: val, Mask: mask,
	}
}

// MatchEthType creates an Openflow basic extensible match of Ethernet
// payload type.
func MatchEthType(eth uint16) ofp.XM {
	return basic(ofp.XMTypeEthType, bytesOf(eth), nil)
}

// MatchInPort creates an Openflow basic extensible match of in port.
func MatchInPort(port ofp.PortNo) ofp.XM {
	return basic(ofp.XMTypeInPort, bytesOf(port), nil)
}

// MatchIPProto creates an Openflow basic extensible match of IP protocol
// payload type.
func MatchIPProto(ipp uint8) ofp.XM {
	return basic(ofp.XMTypeIPProto, bytesOf(ipp), nil)
}

// MatchICMPv6Type creates an Openflow basic extensible match of ICMPv6
// message type.
func MatchICMPv6Type(icmpt uint8) ofp.XM {
	return basic(ofp.XMTypeICMPv6Type, bytesOf(icmpt), nil)
}

// MatchIPv6ExtHeader creates an Openflow basic extensible match of IPv6
// extension header.
func MatchIPv6ExtHeader(header uint16) ofp.XM {
	return basic(ofp.XMTypeIPv6ExtHeader, bytesOf(header), nil)
}

// MatchInPhyPort creates an Openflow basic extensible match of
// physical in port, used when the logical in port is a virtual one.
func MatchInPhyPort(port ofp.PortNo) ofp.XM {
	return basic(ofp.XMTypeInPhyPort, bytesOf(port), nil)
}

// MatchMetadata creates an Openflow basic extensible match of the
// table metadata carried between tables, masked by mask.
func MatchMetadata(metadata, mask uint64) ofp.XM {
	return basic(ofp.XMTypeMetadata, bytesOf(metadata), bytesOf(mask))
}

// MatchEthDst creates an Openflow basic extensible match of Ethernet
// destination address, masked by mask.
func MatchEthDst(addr, mask net.HardwareAddr) ofp.XM {
	return basic(ofp.XMTypeEthDst, []byte(addr), hwMaskBytes(mask))
}

// MatchEthSrc creates an Openflow basic extensible match of Ethernet
// source address, masked by mask.
func MatchEthSrc(addr, mask net.HardwareAddr) ofp.XM {
	return basic(ofp.XMTypeEthSrc, []byte(addr), hwMaskBytes(mask))
}

func hwMaskBytes(mask net.HardwareAddr) []byte {
	if mask == nil {
		return nil
	}
	return []byte(mask)
}

// MatchVlanID creates an Openflow basic extensible match of VLAN id,
// including the OFPVID_PRESENT bit.
func MatchVlanID(vid uint16) ofp.XM {
	return basic(ofp.XMTypeVlanID, bytesOf(vid), nil)
}

// MatchVlanPCP creates an Openflow basic extensible match of VLAN
// priority.
func MatchVlanPCP(pcp uint8) ofp.XM {
	return basic(ofp.XMTypeVlanPCP, bytesOf(pcp), nil)
}

// MatchIPDSCP creates an Openflow basic extensible match of the IP
// DSCP field (6 upper bits of the IP ToS field).
func MatchIPDSCP(dscp uint8) ofp.XM {
	return basic(ofp.XMTypeIPDSCP, bytesOf(dscp), nil)
}

// MatchIPECN creates an Openflow basic extensible match of the IP ECN
// field (2 lower bits of the IP ToS field).
func MatchIPECN(ecn uint8) ofp.XM {
	return basic(ofp.XMTypeIPECN, bytesOf(ecn), nil)
}

// MatchIPv4Src creates an Openflow basic extensible match of IPv4
// source address, masked by mask.
func MatchIPv4Src(addr, mask net.IP) ofp.XM {
	return basic(ofp.XMTypeIPv4Src, []byte(addr.To4()), ipMaskBytes(mask, net.IPv4len))
}

// MatchIPv4Dst creates an Openflow basic extensible match of IPv4
// destination address, masked by mask.
func MatchIPv4Dst(addr, mask net.IP) ofp.XM {
	return basic(ofp.XMTypeIPv4Dst, []byte(addr.To4()), ipMaskBytes(mask, net.IPv4len))
}

func ipMaskBytes(mask net.IP, length int) []byte {
	if mask == nil {
		return nil
	}
	if v4 := mask.To4(); length == net.IPv4len && v4 != nil {
		return []byte(v4)
	}
	return []byte(mask.To16())
}

// MatchTCPSrc creates an Openflow basic extensible match of TCP
// source port.
func MatchTCPSrc(port uint16) ofp.XM {
	return basic(ofp.XMTypeTCPSrc, bytesOf(port), nil)
}

// MatchTCPDst creates an Openflow basic extensible match of TCP
// destination port.
func MatchTCPDst(port uint16) ofp.XM {
	return basic(ofp.XMTypeTCPDst, bytesOf(port), nil)
}

// MatchUDPSrc creates an Openflow basic extensible match of UDP
// source port.
func MatchUDPSrc(port uint16) ofp.XM {
	return basic(ofp.XMTypeUDPSrc, bytesOf(port), nil)
}

// MatchUDPDst creates an Openflow basic extensible match of UDP
// destination port.
func MatchUDPDst(port uint16) ofp.XM {
	return basic(ofp.XMTypeUDPDst, bytesOf(port), nil)
}

// MatchSCTPSrc creates an Openflow basic extensible match of SCTP
// source port.
func MatchSCTPSrc(port uint16) ofp.XM {
	return basic(ofp.XMTypeSCTPSrc, bytesOf(port), nil)
}

// MatchSCTPDst creates an Openflow basic extensible match of SCTP
// destination port.
func MatchSCTPDst(port uint16) ofp.XM {
	return basic(ofp.XMTypeSCTPDst, bytesOf(port), nil)
}

// MatchICMPv4Type creates an Openflow basic extensible match of ICMP
// message type.
func MatchICMPv4Type(t uint8) ofp.XM {
	return basic(ofp.XMTypeICMPv4Type, bytesOf(t), nil)
}

// MatchICMPv4Code creates an Openflow basic extensible match of ICMP
// message code.
func MatchICMPv4Code(code uint8) ofp.XM {
	return basic(ofp.XMTypeICMPv4Code, bytesOf(code), nil)
}

// MatchARPOpcode creates an Openflow basic extensible match of ARP
// opcode.
func MatchARPOpcode(op uint16) ofp.XM {
	return basic(ofp.XMTypeARPOpcode, bytesOf(op), nil)
}

// MatchARPSPA creates an Openflow basic extensible match of ARP
// source IPv4 address, masked by mask.
func MatchARPSPA(addr, mask net.IP) ofp.XM {
	return basic(ofp.XMTypeARPSPA, []byte(addr.To4()), ipMaskBytes(mask, net.IPv4len))
}

// MatchARPTPA creates an Openflow basic extensible match of ARP
// target IPv4 address, masked by mask.
func MatchARPTPA(addr, mask net.IP) ofp.XM {
	return basic(ofp.XMTypeARPTPA, []byte(addr.To4()), ipMaskBytes(mask, net.IPv4len))
}

// MatchARPSHA creates an Openflow basic extensible match of ARP
// source hardware address.
func MatchARPSHA(addr net.HardwareAddr) ofp.XM {
	return basic(ofp.XMTypeARPSHA, []byte(addr), nil)
}

// MatchARPTHA creates an Openflow basic extensible match of ARP
// target hardware address.
func MatchARPTHA(addr net.HardwareAddr) ofp.XM {
	return basic(ofp.XMTypeARPTHA, []byte(addr), nil)
}

// MatchIPv6Src creates an Openflow basic extensible match of IPv6
// source address, masked by mask.
func MatchIPv6Src(addr, mask net.IP) ofp.XM {
	return basic(ofp.XMTypeIPv6Src, []byte(addr.To16()), ipMaskBytes(mask, net.IPv6len))
}

// MatchIPv6Dst creates an Openflow basic extensible match of IPv6
// destination address, masked by mask.
func MatchIPv6Dst(addr, mask net.IP) ofp.XM {
	return basic(ofp.XMTypeIPv6Dst, []byte(addr.To16()), ipMaskBytes(mask, net.IPv6len))
}

// MatchIPv6FLabel creates an Openflow basic extensible match of the
// IPv6 flow label, masked by mask.
func MatchIPv6FLabel(label, mask uint32) ofp.XM {
	return basic(ofp.XMTypeIPv6FLabel, bytesOf(label), bytesOf(mask))
}

// MatchICMPv6Code creates an Openflow basic extensible match of ICMPv6
// message code.
func MatchICMPv6Code(code uint8) ofp.XM {
	return basic(ofp.XMTypeICMPv6Code, bytesOf(code), nil)
}

// MatchIPv6NDTarget creates an Openflow basic extensible match of the
// target address in an IPv6 Neighbor Discovery message.
func MatchIPv6NDTarget(addr net.IP) ofp.XM {
	return basic(ofp.XMTypeIPv6NDTarget, []byte(addr.To16()), nil)
}

// MatchIPv6NDSLL creates an Openflow basic extensible match of the
// source link-layer address option in an IPv6 Neighbor Discovery
// message.
func MatchIPv6NDSLL(addr net.HardwareAddr) ofp.XM {
	return basic(ofp.XMTypeIPv6NDSLL, []byte(addr), nil)
}

// MatchIPv6NDTLL creates an Openflow basic extensible match of the
// target link-layer address option in an IPv6 Neighbor Discovery
// message.
func MatchIPv6NDTLL(addr net.HardwareAddr) ofp.XM {
	return basic(ofp.XMTypeIPv6NDTLL, []byte(addr), nil)
}

// MatchMPLSLabel creates an Openflow basic extensible match of the
// MPLS label.
func MatchMPLSLabel(label uint32) ofp.XM {
	return basic(ofp.XMTypeMPLSLabel, bytesOf(label), nil)
}

// MatchMPLSTC creates an Openflow basic extensible match of the MPLS
// traffic class.
func MatchMPLSTC(tc uint8) ofp.XM {
	return basic(ofp.XMTypeMPLSTC, bytesOf(tc), nil)
}

// MatchMPLSBOS creates an Openflow basic extensible match of the MPLS
// bottom-of-stack bit.
func MatchMPLSBOS(bos uint8) ofp.XM {
	return basic(ofp.XMTypeMPLSBOS, bytesOf(bos), nil)
}

// MatchPBBISID creates an Openflow basic extensible match of the PBB
// service instance identifier, masked by mask.
func MatchPBBISID(isid uint32, mask uint32) ofp.XM {
	return basic(ofp.XMTypePBBISID, bytesOf(isid), bytesOf(mask))
}

// MatchTunnelID creates an Openflow basic extensible match of the
// logical port metadata tunnel identifier, masked by mask.
func MatchTunnelID(id, mask uint64) ofp.XM {
	return basic(ofp.XMTypeTunnelID, bytesOf(id), bytesOf(mask))
}
