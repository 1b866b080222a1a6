package probe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"lanwatch/internal/domain"
)

// pingSweep ICMP-probes every host address in the subnet. MAC addresses
// are backfilled from the kernel ARP table, which the sweep itself
// populates as replies come in.
func (p *Prober) pingSweep(ctx context.Context, subnet string) ([]domain.HostFinding, error) {
	hosts, err := ExpandSubnet(subnet)
	if err != nil {
		return nil, fmt.Errorf("ping sweep: %w", err)
	}

	var mu sync.Mutex
	var alive []string

	sem := make(chan struct{}, p.cfg.PingConcurrency)
	var wg sync.WaitGroup
	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if p.pingHost(ctx, host) {
				mu.Lock()
				alive = append(alive, host)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	macs := readARPTable()
	out := make([]domain.HostFinding, 0, len(alive))
	for _, ip := range alive {
		out = append(out, domain.HostFinding{IP: ip, MAC: macs[ip]})
	}
	p.log.Debug().Str("subnet", subnet).Int("hosts", len(out)).Msg("ping sweep finished")
	return out, nil
}

func (p *Prober) pingHost(ctx context.Context, ip string) bool {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = time.Second
	pinger.SetPrivileged(true)
	if err := pinger.RunWithContext(ctx); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// readARPTable parses /proc/net/arp into an IP-to-MAC map. Incomplete
// entries (all-zero MAC) are skipped.
func readARPTable() map[string]string {
	out := make(map[string]string)
	f, err := os.Open("/proc/net/arp")
	if err != nil {
		return out
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		ip, mac := fields[0], fields[3]
		if mac == "00:00:00:00:00:00" {
			continue
		}
		if norm := domain.NormalizeMAC(mac); norm != "" {
			out[ip] = norm
		}
	}
	return out
}
