// Package scheduler owns the scan job queue: admission control,
// recurring schedules, stale job cleanup and startup recovery.
//
// Jobs run strictly one at a time. Discovery-type jobs are single
// flight: a job for a target that is already queued, running, or was
// created within the last minute is rejected rather than queued twice.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lanwatch/internal/domain"
	"lanwatch/internal/probe"
	"lanwatch/internal/repository"
)

// ErrScanActive is returned when an equivalent scan is already queued,
// running, or was triggered too recently.
var ErrScanActive = errors.New("scan already active")

// Config keys read by the global discovery loop.
const (
	ConfigKeySubnets       = "scan_subnets"
	ConfigKeyInterval      = "scan_interval"
	ConfigKeyLastRun       = "last_discovery_run_at"
	defaultScanIntervalSec = 300
)

const (
	runnerPoll     = time.Second
	schedulePoll   = 5 * time.Second
	staleAfter     = 10 * time.Minute
	recentWindow   = 60 * time.Second
	maxRecentScans = 2

	staleMessage       = "Stale scan auto-cleared"
	interruptedMessage = "Interrupted by server restart"
)

// Runner executes one scan job end to end. The orchestrator implements
// this; the scheduler only manages queue state around it.
type Runner interface {
	Execute(ctx context.Context, job *domain.ScanJob) error
}

// Scheduler drives the job queue and the recurring schedule loop.
type Scheduler struct {
	store  repository.Store
	runner Runner
	log    zerolog.Logger
}

// New builds a Scheduler.
func New(store repository.Store, runner Runner, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		runner: runner,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// RecoverInterrupted marks every job a previous process left queued or
// running as interrupted. Call once before the loops start.
func (s *Scheduler) RecoverInterrupted(ctx context.Context) error {
	n, err := s.store.MarkActiveInterrupted(ctx, time.Now().UTC(), interruptedMessage)
	if err != nil {
		return fmt.Errorf("recover interrupted scans: %w", err)
	}
	if n > 0 {
		s.log.Warn().Int("count", n).Msg("marked leftover scans as interrupted")
	}
	return nil
}

// Run starts the runner and schedule loops and blocks until ctx is
// cancelled. The loops are independent goroutines: a job executing in
// the runner loop must never delay schedule evaluation.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(runnerPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.step(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.log.Error().Err(err).Msg("scan runner step failed")
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(schedulePoll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.handleSchedules(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.log.Error().Err(err).Msg("schedule handling failed")
				}
			}
		}
	}()

	wg.Wait()
}

// Enqueue admits a new scan job. Discovery-type jobs are checked against
// active and recent jobs; tcp-syn jobs are always admitted.
func (s *Scheduler) Enqueue(ctx context.Context, target string, scanType domain.ScanType) (*domain.ScanJob, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("enqueue: empty target")
	}
	now := time.Now().UTC()

	if scanType.IsDiscovery() {
		cutoff := now.Add(-recentWindow)
		active, err := s.store.ActiveOrRecentScans(ctx, cutoff)
		if err != nil {
			return nil, fmt.Errorf("enqueue: %w", err)
		}
		recent := 0
		for _, job := range active {
			if strings.TrimSpace(job.Target) == target {
				return nil, fmt.Errorf("enqueue %q: %w", target, ErrScanActive)
			}
			if job.CreatedAt.After(cutoff) {
				recent++
			}
		}
		if recent >= maxRecentScans {
			return nil, fmt.Errorf("enqueue %q: too many recent scans: %w", target, ErrScanActive)
		}
	}

	job := &domain.ScanJob{
		ID:        uuid.NewString(),
		Target:    target,
		Type:      scanType,
		Status:    domain.ScanQueued,
		CreatedAt: now,
	}
	if err := s.store.CreateScan(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	s.log.Info().Str("scan_id", job.ID).Str("target", target).Str("type", string(scanType)).Msg("scan queued")
	return job, nil
}

// step picks up at most one queued job and runs it to completion.
func (s *Scheduler) step(ctx context.Context) error {
	job, err := s.store.NextQueuedScan(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if n, err := s.store.SweepStaleRunning(ctx, now.Add(-staleAfter), staleMessage); err != nil {
		return err
	} else if n > 0 {
		s.log.Warn().Int("count", n).Msg("cleared stale running scans")
	}

	running, err := s.store.CountRunningScans(ctx)
	if err != nil {
		return err
	}
	if running >= 1 {
		return nil
	}

	startedAt := time.Now().UTC()
	if err := s.store.MarkScanRunning(ctx, job.ID, startedAt); err != nil {
		return err
	}
	job.Status = domain.ScanRunning
	job.StartedAt = &startedAt

	s.log.Info().Str("scan_id", job.ID).Str("target", job.Target).Msg("scan started")
	// A job that outlives the stale window is cancelled outright; the
	// stale sweep can only fix rows, not free a wedged goroutine.
	runCtx, cancel := context.WithTimeout(ctx, staleAfter)
	runErr := s.runner.Execute(runCtx, job)
	cancel()
	finished := time.Now().UTC()
	if runErr != nil {
		s.log.Error().Err(runErr).Str("scan_id", job.ID).Msg("scan failed")
		return s.store.MarkScanFinished(ctx, job.ID, domain.ScanError, finished, runErr.Error())
	}
	s.log.Info().Str("scan_id", job.ID).Dur("took", finished.Sub(startedAt)).Msg("scan finished")
	return s.store.MarkScanFinished(ctx, job.ID, domain.ScanDone, finished, "")
}

// handleSchedules fires the global discovery scan when due, then any
// user-defined schedules.
func (s *Scheduler) handleSchedules(ctx context.Context) error {
	now := time.Now().UTC()
	if err := s.handleGlobalDiscovery(ctx, now); err != nil {
		return err
	}

	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		return err
	}
	for _, sched := range due {
		if _, err := s.Enqueue(ctx, sched.Target, sched.Type); err != nil {
			if errors.Is(err, ErrScanActive) {
				continue
			}
			return err
		}
		next := now.Add(time.Duration(sched.IntervalSeconds) * time.Second)
		if err := s.store.MarkScheduleRun(ctx, sched.ID, now, next); err != nil {
			return err
		}
	}
	return nil
}

// handleGlobalDiscovery enqueues an ARP scan over the configured subnet
// list. The first run fires immediately; later runs wait out the
// configured interval.
func (s *Scheduler) handleGlobalDiscovery(ctx context.Context, now time.Time) error {
	raw, err := s.store.GetConfigValue(ctx, ConfigKeySubnets)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	target := combinedTarget(raw)
	if target == "" {
		return nil
	}

	interval := defaultScanIntervalSec
	if v, err := s.store.GetConfigValue(ctx, ConfigKeyInterval); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			interval = n
		}
	}

	if v, err := s.store.GetConfigValue(ctx, ConfigKeyLastRun); err == nil {
		if lastRun, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v)); err == nil {
			if now.Before(lastRun.Add(time.Duration(interval) * time.Second)) {
				return nil
			}
		}
	}

	if _, err := s.Enqueue(ctx, target, domain.ScanTypeARP); err != nil {
		if errors.Is(err, ErrScanActive) {
			return nil
		}
		return err
	}
	return s.store.SetConfigValue(ctx, ConfigKeyLastRun, now.Format(time.RFC3339Nano))
}

// combinedTarget normalizes the scan_subnets config value, which may be
// a JSON array or a bare string, into a sorted space-joined target.
func combinedTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var subnets []string
	if err := json.Unmarshal([]byte(raw), &subnets); err != nil {
		return raw
	}
	var cleaned []string
	for _, s := range subnets {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	sort.Strings(cleaned)
	return strings.Join(cleaned, " ")
}

// CreateSchedule registers a recurring scan starting immediately.
func (s *Scheduler) CreateSchedule(ctx context.Context, name, target string, scanType domain.ScanType, intervalSeconds int) (*domain.Schedule, error) {
	if intervalSeconds <= 0 {
		return nil, fmt.Errorf("create schedule: interval must be positive")
	}
	if _, err := probe.SplitTargets(target); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	sched := &domain.Schedule{
		ID:              uuid.NewString(),
		Name:            name,
		Target:          strings.TrimSpace(target),
		Type:            scanType,
		IntervalSeconds: intervalSeconds,
		Enabled:         true,
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Schedules lists all recurring scans.
func (s *Scheduler) Schedules(ctx context.Context) ([]*domain.Schedule, error) {
	return s.store.ListSchedules(ctx)
}

// Scans lists recent jobs, newest first.
func (s *Scheduler) Scans(ctx context.Context, limit int) ([]*domain.ScanJob, error) {
	return s.store.ListScans(ctx, limit)
}

// Scan returns one job by id.
func (s *Scheduler) Scan(ctx context.Context, id string) (*domain.ScanJob, error) {
	return s.store.GetScan(ctx, id)
}

// Results returns the immutable result rows for one job.
func (s *Scheduler) Results(ctx context.Context, scanID string) ([]*domain.ScanResult, error) {
	return s.store.ListScanResults(ctx, scanID)
}
