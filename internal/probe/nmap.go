package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	"lanwatch/internal/domain"
)

// SYNScan runs an nmap SYN scan over the target expression and returns
// one observation per responding host, open ports included. Requires the
// nmap binary and raw socket privileges.
func (p *Prober) SYNScan(ctx context.Context, target string, ports []int) ([]domain.Observation, error) {
	targets, err := SplitTargets(target)
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		ports = DefaultPorts()
	}

	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets(targets...),
		nmap.WithPorts(portSpec(ports)),
		nmap.WithSYNScan(),
	)
	if err != nil {
		return nil, fmt.Errorf("syn scan: create scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if warnings != nil && len(*warnings) > 0 {
		p.log.Warn().Strs("warnings", *warnings).Msg("nmap emitted warnings")
	}
	if err != nil {
		return nil, fmt.Errorf("syn scan: %w", err)
	}

	var out []domain.Observation
	for _, host := range result.Hosts {
		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}
		obs := domain.Observation{}
		for _, addr := range host.Addresses {
			switch addr.AddrType {
			case "ipv4":
				obs.IP = addr.Addr
			case "mac":
				obs.MAC = domain.NormalizeMAC(addr.Addr)
			}
		}
		if obs.IP == "" {
			continue
		}
		if len(host.Hostnames) > 0 {
			obs.Hostname = host.Hostnames[0].Name
		}
		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			service := port.Service.Name
			if service == "" {
				service = ServiceName(int(port.ID))
			}
			obs.Ports = append(obs.Ports, domain.PortFinding{
				Port:     int(port.ID),
				Protocol: port.Protocol,
				Service:  service,
			})
		}
		out = append(out, obs)
	}
	p.log.Debug().Str("target", target).Int("hosts", len(out)).Msg("syn scan finished")
	return out, nil
}

func portSpec(ports []int) string {
	specs := make([]string, len(ports))
	for i, p := range ports {
		specs[i] = strconv.Itoa(p)
	}
	return strings.Join(specs, ",")
}
