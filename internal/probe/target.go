package probe

import (
	"fmt"
	"net"
	"strings"
)

// SplitTargets splits a target expression into individual tokens. Tokens
// are separated by whitespace or commas; each must be an IP address or a
// CIDR block.
func SplitTargets(target string) ([]string, error) {
	fields := strings.FieldsFunc(target, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("split targets: empty target")
	}
	for _, f := range fields {
		if net.ParseIP(f) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(f); err != nil {
			return nil, fmt.Errorf("split targets: %q is neither an IP nor a CIDR", f)
		}
	}
	return fields, nil
}

// widestPrefix bounds how many hosts one token may expand to. A /16 is
// already 65534 addresses; anything wider turns a sweep into a
// multi-day crawl.
const widestPrefix = 16

// ExpandSubnet lists the host addresses of an IPv4 subnet token. The
// network and broadcast addresses are skipped for prefixes shorter than
// /31; a bare IP expands to itself.
func ExpandSubnet(token string) ([]string, error) {
	if ip := net.ParseIP(token); ip != nil {
		return []string{token}, nil
	}
	_, ipnet, err := net.ParseCIDR(token)
	if err != nil {
		return nil, fmt.Errorf("expand subnet %q: %w", token, err)
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return nil, fmt.Errorf("expand subnet %q: only IPv4 is supported", token)
	}
	if ones < widestPrefix {
		return nil, fmt.Errorf("expand subnet %q: /%d is too large, /%d is the widest supported", token, ones, widestPrefix)
	}

	var out []string
	skipEdges := ones < 31
	bcast := broadcastAddr(ipnet)
	for ip := cloneIP(ipnet.IP.Mask(ipnet.Mask)); ipnet.Contains(ip); incIP(ip) {
		if skipEdges && (ip.Equal(ipnet.IP) || ip.Equal(bcast)) {
			continue
		}
		out = append(out, ip.String())
	}
	return out, nil
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] > 0 {
			break
		}
	}
}

func broadcastAddr(ipnet *net.IPNet) net.IP {
	ip := cloneIP(ipnet.IP)
	for i := range ip {
		ip[i] |= ^ipnet.Mask[i]
	}
	return ip
}
