// Package probe performs the actual network I/O: ARP sweeps, ICMP
// sweeps, TCP connect probing with banner grabs, and nmap SYN scans.
//
// The prober is stateless; it takes targets and returns findings. All
// reconciliation with the inventory happens in internal/registry.
package probe

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lanwatch/internal/domain"
)

// Config holds the prober tunables.
type Config struct {
	// PortConcurrency caps simultaneous TCP connect attempts per host.
	PortConcurrency int
	// PingConcurrency caps simultaneous ICMP pingers across a sweep.
	PingConcurrency int
	// PortTimeout is the connect timeout per port.
	PortTimeout time.Duration
	// ARPTimeout is how long a sweep listens for ARP replies.
	ARPTimeout time.Duration
}

// DefaultConfig mirrors the tunables the scan pipeline was sized for.
func DefaultConfig() Config {
	return Config{
		PortConcurrency: 50,
		PingConcurrency: 50,
		PortTimeout:     time.Second,
		ARPTimeout:      5 * time.Second,
	}
}

// sweepFunc is one host discovery pass over a single subnet token.
type sweepFunc func(ctx context.Context, subnet string) ([]domain.HostFinding, error)

// Prober executes network probes.
type Prober struct {
	cfg Config
	log zerolog.Logger

	arp  sweepFunc
	ping sweepFunc
}

// New builds a Prober, filling zero-valued tunables with defaults.
func New(cfg Config, log zerolog.Logger) *Prober {
	def := DefaultConfig()
	if cfg.PortConcurrency <= 0 {
		cfg.PortConcurrency = def.PortConcurrency
	}
	if cfg.PingConcurrency <= 0 {
		cfg.PingConcurrency = def.PingConcurrency
	}
	if cfg.PortTimeout <= 0 {
		cfg.PortTimeout = def.PortTimeout
	}
	if cfg.ARPTimeout <= 0 {
		cfg.ARPTimeout = def.ARPTimeout
	}
	p := &Prober{cfg: cfg, log: log.With().Str("component", "probe").Logger()}
	p.arp = p.arpSweep
	p.ping = p.pingSweep
	return p
}

// Discover runs host discovery over the target expression for the given
// scan type and returns deduplicated findings.
//
// arp uses a raw ARP sweep. ping uses ICMP with ARP-table MAC backfill.
// discovery tries ARP first and falls back to ping when the sweep
// fails, lacks privileges, or comes back empty.
func (p *Prober) Discover(ctx context.Context, target string, scanType domain.ScanType) ([]domain.HostFinding, error) {
	subnets, err := SplitTargets(target)
	if err != nil {
		return nil, err
	}

	var all []domain.HostFinding
	for _, subnet := range subnets {
		var found []domain.HostFinding
		switch scanType {
		case domain.ScanTypeARP:
			found, err = p.arp(ctx, subnet)
		case domain.ScanTypePing:
			found, err = p.ping(ctx, subnet)
		case domain.ScanTypeDiscovery:
			found, err = p.arp(ctx, subnet)
			if err != nil {
				p.log.Warn().Err(err).Str("subnet", subnet).
					Msg("arp sweep unavailable, falling back to ping")
				found, err = p.ping(ctx, subnet)
			} else if len(found) == 0 {
				p.log.Debug().Str("subnet", subnet).
					Msg("arp sweep saw no replies, falling back to ping")
				found, err = p.ping(ctx, subnet)
			}
		default:
			return nil, fmt.Errorf("discover: unsupported scan type %q", scanType)
		}
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", subnet, err)
		}
		all = append(all, found...)
	}
	return domain.DedupeFindings(all), nil
}

// ScanPorts connect-probes the given ports on one host and returns the
// open ones with service names and any banner the service volunteered.
func (p *Prober) ScanPorts(ctx context.Context, ip string, ports []int) []domain.PortFinding {
	var mu sync.Mutex
	var found []domain.PortFinding

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.PortConcurrency)
	for _, port := range ports {
		g.Go(func() error {
			f, ok := p.probePort(ctx, ip, port)
			if ok {
				mu.Lock()
				found = append(found, f)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	sort.Slice(found, func(i, j int) bool { return found[i].Port < found[j].Port })
	return found
}

// DeepScan probes the full low port range on one host.
func (p *Prober) DeepScan(ctx context.Context, ip string) []domain.PortFinding {
	return p.ScanPorts(ctx, ip, DeepScanPorts())
}

// ResolveHostname reverse-resolves an IP, returning "" when PTR lookup
// fails or yields nothing.
func (p *Prober) ResolveHostname(ctx context.Context, ip string) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}
