// File: arpicmp/arpicmp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server answers ARP requests and ICMP echo requests addressed to any of
// the engine's locally bound IPv4 addresses, synthesizing a fresh reply
// frame from the local-binding table rather than mutating the request in
// place.

package arpicmp

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Verdict classifies an inbound frame for the engine's RX loop.
type Verdict int

const (
	VerdictDataPacket Verdict = iota
	VerdictARPRequest
	VerdictICMPEchoRequest
	VerdictIgnore
)

// Server holds the local IPv4-to-MAC binding table. Multiple MACs may be
// bound to one IP, e.g. during a migration window; Classify and the
// Build* methods use the first binding.
type Server struct {
	mu       sync.RWMutex
	bindings map[string][]net.HardwareAddr
}

// NewServer returns an empty responder; bindings are added via Bind.
func NewServer() *Server {
	return &Server{bindings: make(map[string][]net.HardwareAddr)}
}

// Bind associates ip (dotted-quad) with mac, appending to any existing
// bindings for that address.
func (s *Server) Bind(ip string, mac net.HardwareAddr) {
	s.mu.Lock()
	s.bindings[ip] = append(s.bindings[ip], mac)
	s.mu.Unlock()
}

// Unbind removes every MAC binding for ip.
func (s *Server) Unbind(ip string) {
	s.mu.Lock()
	delete(s.bindings, ip)
	s.mu.Unlock()
}

func (s *Server) macFor(ip string) (net.HardwareAddr, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	macs, ok := s.bindings[ip]
	if !ok || len(macs) == 0 {
		return nil, false
	}
	return macs[0], true
}

// Classify inspects a decoded packet and reports what the responder
// should do with it.
func (s *Server) Classify(pkt gopacket.Packet) Verdict {
	if arpLayer := pkt.Layer(layers.LayerTypeARP); arpLayer != nil {
		arp, _ := arpLayer.(*layers.ARP)
		if arp.Operation != layers.ARPRequest {
			return VerdictIgnore
		}
		target := net.IP(arp.DstProtAddress).String()
		if _, ok := s.macFor(target); ok {
			return VerdictARPRequest
		}
		return VerdictIgnore
	}
	if icmpLayer := pkt.Layer(layers.LayerTypeICMPv4); icmpLayer != nil {
		icmp, _ := icmpLayer.(*layers.ICMPv4)
		if icmp.TypeCode.Type() != layers.ICMPv4TypeEchoRequest {
			return VerdictIgnore
		}
		ipLayer := pkt.Layer(layers.LayerTypeIPv4)
		if ipLayer == nil {
			return VerdictIgnore
		}
		ip4, _ := ipLayer.(*layers.IPv4)
		if _, ok := s.macFor(ip4.DstIP.String()); ok {
			return VerdictICMPEchoRequest
		}
		return VerdictIgnore
	}
	return VerdictDataPacket
}

// BuildARPReply synthesizes a fresh ARP reply to an ARP request, using the
// local binding for the requested protocol address.
func (s *Server) BuildARPReply(pkt gopacket.Packet) ([]byte, error) {
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	arpLayer := pkt.Layer(layers.LayerTypeARP)
	if ethLayer == nil || arpLayer == nil {
		return nil, fmt.Errorf("arpicmp: not an ARP frame")
	}
	reqEth, _ := ethLayer.(*layers.Ethernet)
	reqARP, _ := arpLayer.(*layers.ARP)

	target := net.IP(reqARP.DstProtAddress).String()
	localMAC, ok := s.macFor(target)
	if !ok {
		return nil, fmt.Errorf("arpicmp: no local binding for %s", target)
	}

	replyEth := &layers.Ethernet{
		SrcMAC:       localMAC,
		DstMAC:       reqEth.SrcMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	replyARP := &layers.ARP{
		AddrType:          reqARP.AddrType,
		Protocol:          reqARP.Protocol,
		HwAddressSize:     reqARP.HwAddressSize,
		ProtAddressSize:   reqARP.ProtAddressSize,
		Operation:         layers.ARPReply,
		SourceHwAddress:   []byte(localMAC),
		SourceProtAddress: reqARP.DstProtAddress,
		DstHwAddress:      reqARP.SourceHwAddress,
		DstProtAddress:    reqARP.SourceProtAddress,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, replyEth, replyARP); err != nil {
		return nil, fmt.Errorf("arpicmp: serialize ARP reply: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildICMPReply synthesizes a fresh ICMP echo reply from an echo request.
func (s *Server) BuildICMPReply(pkt gopacket.Packet) ([]byte, error) {
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	icmpLayer := pkt.Layer(layers.LayerTypeICMPv4)
	if ethLayer == nil || ipLayer == nil || icmpLayer == nil {
		return nil, fmt.Errorf("arpicmp: not an ICMP echo request frame")
	}
	reqEth, _ := ethLayer.(*layers.Ethernet)
	reqIP, _ := ipLayer.(*layers.IPv4)
	reqICMP, _ := icmpLayer.(*layers.ICMPv4)

	localMAC, ok := s.macFor(reqIP.DstIP.String())
	if !ok {
		return nil, fmt.Errorf("arpicmp: no local binding for %s", reqIP.DstIP)
	}

	replyEth := &layers.Ethernet{
		SrcMAC:       localMAC,
		DstMAC:       reqEth.SrcMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	replyIP := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    reqIP.DstIP,
		DstIP:    reqIP.SrcIP,
	}
	replyICMP := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0),
		Id:       reqICMP.Id,
		Seq:      reqICMP.Seq,
	}

	var payload gopacket.Payload
	if app := pkt.ApplicationLayer(); app != nil {
		payload = gopacket.Payload(app.Payload())
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, replyEth, replyIP, replyICMP, payload); err != nil {
		return nil, fmt.Errorf("arpicmp: serialize ICMP reply: %w", err)
	}
	return buf.Bytes(), nil
}
