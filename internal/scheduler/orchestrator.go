package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lanwatch/internal/domain"
	"lanwatch/internal/probe"
	"lanwatch/internal/repository"
)

// Prober is the network probing surface the orchestrator drives.
type Prober interface {
	Discover(ctx context.Context, target string, scanType domain.ScanType) ([]domain.HostFinding, error)
	ScanPorts(ctx context.Context, ip string, ports []int) []domain.PortFinding
	SYNScan(ctx context.Context, target string, ports []int) ([]domain.Observation, error)
	ResolveHostname(ctx context.Context, ip string) string
}

// Reconciler folds observations into the inventory.
type Reconciler interface {
	UpsertFromObservation(ctx context.Context, obs domain.Observation) (*domain.Device, bool, error)
	OfflineSweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Orchestrator runs one scan job end to end: discovery, per-host
// probing, result recording, reconciliation and the offline sweep.
type Orchestrator struct {
	prober     Prober
	reconciler Reconciler
	store      repository.Store
	log        zerolog.Logger

	// hostConcurrency caps how many discovered hosts are probed at once.
	hostConcurrency int
}

// NewOrchestrator builds an Orchestrator. hostConcurrency below 1 is
// raised to 1.
func NewOrchestrator(prober Prober, reconciler Reconciler, store repository.Store, hostConcurrency int, log zerolog.Logger) *Orchestrator {
	if hostConcurrency < 1 {
		hostConcurrency = 1
	}
	return &Orchestrator{
		prober:          prober,
		reconciler:      reconciler,
		store:           store,
		log:             log.With().Str("component", "orchestrator").Logger(),
		hostConcurrency: hostConcurrency,
	}
}

// Execute runs the job. The caller has already marked it running and
// will record the terminal state from the returned error.
func (o *Orchestrator) Execute(ctx context.Context, job *domain.ScanJob) error {
	switch job.Type {
	case domain.ScanTypeTCPSYN:
		return o.runSYN(ctx, job)
	case domain.ScanTypeARP, domain.ScanTypePing, domain.ScanTypeDiscovery:
		return o.runDiscovery(ctx, job)
	default:
		return fmt.Errorf("execute scan %s: unsupported type %q", job.ID, job.Type)
	}
}

// runDiscovery sweeps the target, probes each responding host, records
// results and finishes with an offline sweep against the job start time.
func (o *Orchestrator) runDiscovery(ctx context.Context, job *domain.ScanJob) error {
	findings, err := o.prober.Discover(ctx, job.Target, job.Type)
	if err != nil {
		return fmt.Errorf("execute scan %s: %w", job.ID, err)
	}
	o.log.Info().Str("scan_id", job.ID).Int("hosts", len(findings)).Msg("discovery complete")

	observations := make([]domain.Observation, len(findings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.hostConcurrency)
	for i, f := range findings {
		g.Go(func() error {
			obs := domain.Observation{
				IP:       f.IP,
				MAC:      f.MAC,
				Hostname: o.prober.ResolveHostname(gctx, f.IP),
			}
			obs.Ports = o.prober.ScanPorts(gctx, f.IP, probe.DefaultPorts())
			observations[i] = obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("execute scan %s: %w", job.ID, err)
	}

	if err := o.record(ctx, job, observations); err != nil {
		return err
	}

	// Devices the sweep did not refresh have a last_seen older than the
	// job start and get flipped offline.
	cutoff := job.CreatedAt
	if job.StartedAt != nil {
		cutoff = *job.StartedAt
	}
	if _, err := o.reconciler.OfflineSweep(ctx, cutoff); err != nil {
		return fmt.Errorf("execute scan %s: %w", job.ID, err)
	}
	return nil
}

// runSYN delegates discovery and port probing to nmap in one pass. SYN
// scans are targeted probes, not full sweeps, so no offline sweep runs
// afterwards. When nmap is unavailable the job degrades to plain
// connect probing.
func (o *Orchestrator) runSYN(ctx context.Context, job *domain.ScanJob) error {
	observations, err := o.prober.SYNScan(ctx, job.Target, probe.DefaultPorts())
	if err != nil {
		o.log.Warn().Err(err).Str("scan_id", job.ID).Msg("syn scan unavailable, falling back to connect probing")
		observations, err = o.connectProbe(ctx, job.Target)
		if err != nil {
			return fmt.Errorf("execute scan %s: %w", job.ID, err)
		}
	}
	o.log.Info().Str("scan_id", job.ID).Int("hosts", len(observations)).Msg("syn scan complete")
	return o.record(ctx, job, observations)
}

// connectProbe port-scans every address in the target directly. Hosts
// with no open candidate port are dropped; without ICMP or ARP evidence
// an all-closed host is indistinguishable from an absent one.
func (o *Orchestrator) connectProbe(ctx context.Context, target string) ([]domain.Observation, error) {
	tokens, err := probe.SplitTargets(target)
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, token := range tokens {
		expanded, err := probe.ExpandSubnet(token)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, expanded...)
	}

	observations := make([]domain.Observation, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.hostConcurrency)
	for i, host := range hosts {
		g.Go(func() error {
			ports := o.prober.ScanPorts(gctx, host, probe.DefaultPorts())
			if len(ports) == 0 {
				return nil
			}
			observations[i] = domain.Observation{
				IP:       host,
				Hostname: o.prober.ResolveHostname(gctx, host),
				Ports:    ports,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.Observation
	for _, obs := range observations {
		if obs.IP != "" {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (o *Orchestrator) record(ctx context.Context, job *domain.ScanJob, observations []domain.Observation) error {
	now := time.Now().UTC()
	for _, obs := range observations {
		if obs.IP == "" {
			continue
		}
		result := &domain.ScanResult{
			ID:        uuid.NewString(),
			ScanID:    job.ID,
			IP:        obs.IP,
			MAC:       domain.NormalizeMAC(obs.MAC),
			Hostname:  obs.Hostname,
			Ports:     obs.Ports,
			FirstSeen: now,
			LastSeen:  now,
		}
		if err := o.store.CreateScanResult(ctx, result); err != nil {
			return fmt.Errorf("record scan %s: %w", job.ID, err)
		}
		if _, _, err := o.reconciler.UpsertFromObservation(ctx, obs); err != nil {
			return fmt.Errorf("record scan %s: %w", job.ID, err)
		}
	}
	return nil
}
