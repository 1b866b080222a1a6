package probe

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"lanwatch/internal/domain"
)

// defaultPorts is the quick-scan candidate list used during discovery.
var defaultPorts = []int{
	21, 22, 23, 25, 53, 80, 110, 139, 143, 443, 445, 548, 587, 631,
	993, 995, 1883, 2049, 2375, 3000, 32400, 3306, 3389, 5000, 5353,
	5432, 5555, 5683, 5900, 6379, 8006, 8080, 8081, 8123, 8443, 8883,
	8888, 9000, 9090, 9091, 10000,
}

// DefaultPorts returns a copy of the quick-scan candidate list.
func DefaultPorts() []int {
	out := make([]int, len(defaultPorts))
	copy(out, defaultPorts)
	return out
}

// DeepScanPorts returns the full 1-1024 range probed by a deep scan.
func DeepScanPorts() []int {
	out := make([]int, 0, 1024)
	for p := 1; p <= 1024; p++ {
		out = append(out, p)
	}
	return out
}

var serviceNames = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "domain",
	80:    "http",
	110:   "pop3",
	139:   "netbios-ssn",
	143:   "imap",
	443:   "https",
	445:   "microsoft-ds",
	548:   "afp",
	587:   "submission",
	631:   "ipp",
	993:   "imaps",
	995:   "pop3s",
	1883:  "mqtt",
	2049:  "nfs",
	2375:  "docker",
	3000:  "app",
	3306:  "mysql",
	3389:  "rdp",
	5000:  "upnp",
	5353:  "mdns",
	5432:  "postgresql",
	5555:  "adb",
	5683:  "coap",
	5900:  "vnc",
	6379:  "redis",
	8006:  "proxmox",
	8080:  "http-alt",
	8081:  "http-alt",
	8123:  "home-assistant",
	8443:  "https-alt",
	8883:  "mqtts",
	8888:  "http-alt",
	9000:  "cslistener",
	9090:  "websm",
	9091:  "transmission",
	10000: "webmin",
	32400: "plex",
}

// ServiceName returns the conventional service name for a TCP port, or
// "unknown" when the port has no entry.
func ServiceName(port int) string {
	if s, ok := serviceNames[port]; ok {
		return s
	}
	return "unknown"
}

// bannerPorts lists services that greet first; only these get a read
// after connect so HTTP-style ports do not stall the probe.
var bannerPorts = map[int]bool{
	21:  true,
	22:  true,
	25:  true,
	110: true,
	143: true,
	587: true,
}

func (p *Prober) probePort(ctx context.Context, ip string, port int) (domain.PortFinding, bool) {
	d := net.Dialer{Timeout: p.cfg.PortTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return domain.PortFinding{}, false
	}
	defer conn.Close()

	finding := domain.PortFinding{
		Port:     port,
		Protocol: "tcp",
		Service:  ServiceName(port),
	}
	if bannerPorts[port] {
		finding.Banner = readBanner(conn)
	}
	return finding, true
}

// readBanner grabs the first line a greeting service sends, capped and
// stripped of control characters. Empty on timeout.
func readBanner(conn net.Conn) string {
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return ""
	}
	line := string(buf[:n])
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 || r > 126 {
			return -1
		}
		return r
	}, line))
}
