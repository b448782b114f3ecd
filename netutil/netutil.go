// File: netutil/netutil.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared five-tuple and address helpers used by the packetiser's connection
// tracker and the multiplexer's routing keys. All addresses and
// ports are kept in host byte order internally; conversion to/from network
// byte order happens only at gopacket decode/serialize boundaries, so byte
// order is never ambiguous mid-pipeline.

package netutil

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// FiveTuple uniquely identifies a flow: the IP/port five-tuple extended
// with source/destination MAC, so that distinct link-layer paths carrying
// the same IP/port pair (e.g. redundant NIC paths, multiple MACs behind one
// IP) are tracked as separate connections.
type FiveTuple struct {
	SrcIP    [4]byte
	DstIP    [4]byte
	SrcPort  uint16
	DstPort  uint16
	Protocol layers.IPProtocol
	SrcMAC   [6]byte
	DstMAC   [6]byte
}

func (t FiveTuple) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%s[%s->%s]",
		net.IP(t.SrcIP[:]), t.SrcPort, net.IP(t.DstIP[:]), t.DstPort, t.Protocol,
		net.HardwareAddr(t.SrcMAC[:]), net.HardwareAddr(t.DstMAC[:]))
}

// Reverse returns the tuple seen from the other direction of the flow.
func (t FiveTuple) Reverse() FiveTuple {
	return FiveTuple{
		SrcIP: t.DstIP, DstIP: t.SrcIP,
		SrcPort: t.DstPort, DstPort: t.SrcPort,
		Protocol: t.Protocol,
		SrcMAC:   t.DstMAC, DstMAC: t.SrcMAC,
	}
}

// ExtractFiveTuple reads Ethernet + IPv4 + TCP/UDP layers from an
// already-decoded gopacket.Packet. It returns ok=false for any packet that
// is not IPv4, or is IPv4 but not TCP/UDP.
func ExtractFiveTuple(pkt gopacket.Packet) (FiveTuple, bool) {
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return FiveTuple{}, false
	}
	ip4, _ := ipLayer.(*layers.IPv4)
	var t FiveTuple
	copy(t.SrcIP[:], ip4.SrcIP.To4())
	copy(t.DstIP[:], ip4.DstIP.To4())
	t.Protocol = ip4.Protocol

	if ethLayer := pkt.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		eth, _ := ethLayer.(*layers.Ethernet)
		copy(t.SrcMAC[:], eth.SrcMAC)
		copy(t.DstMAC[:], eth.DstMAC)
	}

	switch ip4.Protocol {
	case layers.IPProtocolTCP:
		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			return FiveTuple{}, false
		}
		tcp, _ := tcpLayer.(*layers.TCP)
		t.SrcPort = uint16(tcp.SrcPort)
		t.DstPort = uint16(tcp.DstPort)
	case layers.IPProtocolUDP:
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			return FiveTuple{}, false
		}
		udp, _ := udpLayer.(*layers.UDP)
		t.SrcPort = uint16(udp.SrcPort)
		t.DstPort = uint16(udp.DstPort)
	default:
		return FiveTuple{}, false
	}
	return t, true
}

// IPv4String renders a [4]byte address in dotted form, the same string
// net.IP.String gives for it.
func IPv4String(addr [4]byte) string {
	return net.IP(addr[:]).String()
}

// ParseIPv4 parses a dotted-quad into a [4]byte, erroring on IPv6 or
// malformed input.
func ParseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("netutil: invalid IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("netutil: %q is not an IPv4 address", s)
	}
	copy(out[:], v4)
	return out, nil
}
