package netutil

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func buildTCPPacket(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16) gopacket.Packet {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		SYN:     true,
	}
	tcp.SetNetworkLayerForChecksum(ip4)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, tcp); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.NoCopy)
}

func buildUDPPacket(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16) gopacket.Packet {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	udp.SetNetworkLayerForChecksum(ip4)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, udp); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.NoCopy)
}

func TestExtractFiveTupleTCP(t *testing.T) {
	pkt := buildTCPPacket(t, "10.0.0.1", "10.0.0.2", 1234, 80)
	tuple, ok := ExtractFiveTuple(pkt)
	if !ok {
		t.Fatal("expected ExtractFiveTuple to succeed for TCP/IPv4 packet")
	}
	if got, want := IPv4String(tuple.SrcIP), "10.0.0.1"; got != want {
		t.Fatalf("SrcIP = %q, want %q", got, want)
	}
	if got, want := IPv4String(tuple.DstIP), "10.0.0.2"; got != want {
		t.Fatalf("DstIP = %q, want %q", got, want)
	}
	if tuple.SrcPort != 1234 || tuple.DstPort != 80 {
		t.Fatalf("ports = %d/%d, want 1234/80", tuple.SrcPort, tuple.DstPort)
	}
	if tuple.Protocol != layers.IPProtocolTCP {
		t.Fatalf("Protocol = %v, want TCP", tuple.Protocol)
	}
	wantSrcMAC := [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	wantDstMAC := [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	if tuple.SrcMAC != wantSrcMAC || tuple.DstMAC != wantDstMAC {
		t.Fatalf("MACs = %v/%v, want %v/%v", tuple.SrcMAC, tuple.DstMAC, wantSrcMAC, wantDstMAC)
	}
}

func TestExtractFiveTupleDistinguishesFlowsByMAC(t *testing.T) {
	a, ok := ExtractFiveTuple(buildTCPPacket(t, "10.0.0.1", "10.0.0.2", 1234, 80))
	if !ok {
		t.Fatal("expected ExtractFiveTuple to succeed")
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x99},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.ParseIP("10.0.0.1").To4(), DstIP: net.ParseIP("10.0.0.2").To4(),
	}
	tcp := &layers.TCP{SrcPort: 1234, DstPort: 80, SYN: true}
	tcp.SetNetworkLayerForChecksum(ip4)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, tcp); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	b, ok := ExtractFiveTuple(gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.NoCopy))
	if !ok {
		t.Fatal("expected ExtractFiveTuple to succeed")
	}
	if a == b {
		t.Fatal("expected tuples with identical IP/port but different source MAC to differ")
	}
}

func TestExtractFiveTupleUDP(t *testing.T) {
	pkt := buildUDPPacket(t, "192.168.1.1", "192.168.1.2", 5353, 53)
	tuple, ok := ExtractFiveTuple(pkt)
	if !ok {
		t.Fatal("expected ExtractFiveTuple to succeed for UDP/IPv4 packet")
	}
	if tuple.SrcPort != 5353 || tuple.DstPort != 53 {
		t.Fatalf("ports = %d/%d, want 5353/53", tuple.SrcPort, tuple.DstPort)
	}
}

func TestExtractFiveTupleRejectsNonIPv4(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	pkt := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.NoCopy)

	if _, ok := ExtractFiveTuple(pkt); ok {
		t.Fatal("expected ExtractFiveTuple to reject a non-IPv4 packet")
	}
}

func TestFiveTupleReverse(t *testing.T) {
	t1 := FiveTuple{
		SrcIP: [4]byte{10, 0, 0, 1}, DstIP: [4]byte{10, 0, 0, 2},
		SrcPort: 1111, DstPort: 80, Protocol: layers.IPProtocolTCP,
		SrcMAC: [6]byte{0, 0, 0, 0, 0, 1}, DstMAC: [6]byte{0, 0, 0, 0, 0, 2},
	}
	t2 := t1.Reverse()
	if t2.SrcIP != t1.DstIP || t2.DstIP != t1.SrcIP {
		t.Fatal("Reverse did not swap IPs")
	}
	if t2.SrcPort != t1.DstPort || t2.DstPort != t1.SrcPort {
		t.Fatal("Reverse did not swap ports")
	}
	if t2.Protocol != t1.Protocol {
		t.Fatal("Reverse must preserve protocol")
	}
	if t2.SrcMAC != t1.DstMAC || t2.DstMAC != t1.SrcMAC {
		t.Fatal("Reverse did not swap MACs")
	}
}

func TestFiveTupleString(t *testing.T) {
	tuple := FiveTuple{
		SrcIP: [4]byte{10, 0, 0, 1}, DstIP: [4]byte{10, 0, 0, 2},
		SrcPort: 1111, DstPort: 80, Protocol: layers.IPProtocolTCP,
		SrcMAC: [6]byte{0x02, 0, 0, 0, 0, 1}, DstMAC: [6]byte{0x02, 0, 0, 0, 0, 2},
	}
	got := tuple.String()
	want := "10.0.0.1:1111->10.0.0.2:80/TCP[02:00:00:00:00:01->02:00:00:00:00:02]"
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestParseIPv4(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"10.0.0.1", false},
		{"255.255.255.255", false},
		{"not-an-ip", true},
		{"::1", true}, // IPv6 rejected
	}
	for _, c := range cases {
		addr, err := ParseIPv4(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseIPv4(%q) succeeded, want error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseIPv4(%q): %v", c.in, err)
			continue
		}
		if IPv4String(addr) != c.in {
			t.Errorf("round-trip ParseIPv4/IPv4String(%q) = %q", c.in, IPv4String(addr))
		}
	}
}
