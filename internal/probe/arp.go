package probe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"lanwatch/internal/domain"
)

// arpSweep broadcasts ARP who-has requests across the subnet and
// collects replies. Requests are paced 10ms apart and sent in two
// passes so hosts that drop the first request still get counted.
func (p *Prober) arpSweep(ctx context.Context, subnet string) ([]domain.HostFinding, error) {
	_, ipnet, err := net.ParseCIDR(subnet)
	if err != nil {
		// A bare IP sweeps as a /32.
		ip := net.ParseIP(subnet)
		if ip == nil {
			return nil, fmt.Errorf("arp sweep: bad target %q", subnet)
		}
		ipnet = &net.IPNet{IP: ip.To4(), Mask: net.CIDRMask(32, 32)}
	}

	iface, srcIP, err := interfaceFor(ipnet.IP)
	if err != nil {
		return nil, fmt.Errorf("arp sweep: %w", err)
	}

	handle, err := pcap.OpenLive(iface.Name, 1024, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("arp sweep: open %s: %w", iface.Name, err)
	}
	defer handle.Close()
	if err := handle.SetBPFFilter("arp"); err != nil {
		return nil, fmt.Errorf("arp sweep: set filter: %w", err)
	}

	var mu sync.Mutex
	replies := make(map[string]string)

	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()
	go func() {
		src := gopacket.NewPacketSource(handle, handle.LinkType())
		for {
			select {
			case <-listenCtx.Done():
				return
			case packet, ok := <-src.Packets():
				if !ok {
					return
				}
				arpLayer := packet.Layer(layers.LayerTypeARP)
				if arpLayer == nil {
					continue
				}
				reply := arpLayer.(*layers.ARP)
				if reply.Operation != layers.ARPReply {
					continue
				}
				ip := net.IP(reply.SourceProtAddress)
				if !ipnet.Contains(ip) {
					continue
				}
				mu.Lock()
				replies[ip.String()] = net.HardwareAddr(reply.SourceHwAddress).String()
				mu.Unlock()
			}
		}
	}()

	hosts, err := ExpandSubnet(ipnet.String())
	if err != nil {
		return nil, err
	}

	for pass := 0; pass < 2; pass++ {
		for _, host := range hosts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sendARPRequest(handle, iface, srcIP, net.ParseIP(host).To4())
			time.Sleep(10 * time.Millisecond)
		}
	}

	select {
	case <-time.After(p.cfg.ARPTimeout):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	stopListen()

	mu.Lock()
	defer mu.Unlock()
	out := make([]domain.HostFinding, 0, len(replies))
	for ip, mac := range replies {
		out = append(out, domain.HostFinding{IP: ip, MAC: mac})
	}
	p.log.Debug().Str("subnet", subnet).Int("hosts", len(out)).Msg("arp sweep finished")
	return out, nil
}

func sendARPRequest(handle *pcap.Handle, iface *net.Interface, srcIP, dstIP net.IP) {
	eth := &layers.Ethernet{
		SrcMAC:       iface.HardwareAddr,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(iface.HardwareAddr),
		SourceProtAddress: []byte(srcIP.To4()),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(dstIP),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return
	}
	handle.WritePacketData(buf.Bytes())
}

// interfaceFor finds the local interface whose own subnet contains the
// target, along with the source address to probe from. Matching this
// way round also covers bare-IP targets, whose /32 contains no local
// address.
func interfaceFor(target net.IP) (*net.Interface, net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if src, ok := sourceAddrFor(addrs, target); ok {
			return &iface, src, nil
		}
	}
	return nil, nil, fmt.Errorf("no interface on the same subnet as %s", target)
}

// sourceAddrFor picks the IPv4 address whose subnet contains target.
func sourceAddrFor(addrs []net.Addr, target net.IP) (net.IP, bool) {
	for _, addr := range addrs {
		addrNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := addrNet.IP.To4()
		if ip4 != nil && addrNet.Contains(target) {
			return ip4, true
		}
	}
	return nil, false
}
