package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanwatch/internal/domain"
	"lanwatch/internal/repository/sqlite"
)

type stubRunner struct {
	executed []*domain.ScanJob
	err      error
	block    chan struct{} // when set, Execute waits on it
}

func (r *stubRunner) Execute(_ context.Context, job *domain.ScanJob) error {
	r.executed = append(r.executed, job)
	if r.block != nil {
		<-r.block
	}
	return r.err
}

func newTestScheduler(t *testing.T) (*Scheduler, *sqlite.Store, *stubRunner) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runner := &stubRunner{}
	return New(store, runner, zerolog.Nop()), store, runner
}

func TestEnqueueSingleFlight(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "192.168.1.0/24", domain.ScanTypeARP)
	require.NoError(t, err)

	_, err = s.Enqueue(ctx, "192.168.1.0/24", domain.ScanTypeARP)
	assert.ErrorIs(t, err, ErrScanActive)

	// Whitespace variations still collide.
	_, err = s.Enqueue(ctx, "  192.168.1.0/24  ", domain.ScanTypeARP)
	assert.ErrorIs(t, err, ErrScanActive)
}

func TestEnqueueRecentScanBurstGuard(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "10.0.0.0/24", domain.ScanTypeARP)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "10.0.1.0/24", domain.ScanTypeARP)
	require.NoError(t, err)

	// Two scans were created within the window; a third target is
	// rejected outright.
	_, err = s.Enqueue(ctx, "10.0.2.0/24", domain.ScanTypeARP)
	assert.ErrorIs(t, err, ErrScanActive)
}

func TestEnqueueSYNBypassesSingleFlight(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "192.168.1.5", domain.ScanTypeTCPSYN)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "192.168.1.5", domain.ScanTypeTCPSYN)
	require.NoError(t, err)
}

func TestEnqueueRejectsEmptyTarget(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	_, err := s.Enqueue(context.Background(), "   ", domain.ScanTypeARP)
	assert.Error(t, err)
}

func TestStepRunsQueuedJob(t *testing.T) {
	s, store, runner := newTestScheduler(t)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "192.168.1.0/24", domain.ScanTypeARP)
	require.NoError(t, err)

	require.NoError(t, s.step(ctx))

	require.Len(t, runner.executed, 1)
	assert.Equal(t, job.ID, runner.executed[0].ID)
	require.NotNil(t, runner.executed[0].StartedAt)

	after, err := store.GetScan(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanDone, after.Status)
	assert.NotNil(t, after.FinishedAt)
}

func TestStepRecordsRunnerError(t *testing.T) {
	s, store, runner := newTestScheduler(t)
	runner.err = errors.New("interface down")
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "192.168.1.0/24", domain.ScanTypeARP)
	require.NoError(t, err)
	require.NoError(t, s.step(ctx))

	after, err := store.GetScan(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanError, after.Status)
	assert.Equal(t, "interface down", after.ErrorMessage)
}

func TestStepHonorsSingleRunningJob(t *testing.T) {
	s, store, runner := newTestScheduler(t)
	ctx := context.Background()

	// A job is already running.
	blocker := &domain.ScanJob{
		ID: "blocker", Target: "10.0.0.0/24", Type: domain.ScanTypeARP,
		Status: domain.ScanQueued, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateScan(ctx, blocker))
	require.NoError(t, store.MarkScanRunning(ctx, "blocker", time.Now().UTC()))

	job, err := s.Enqueue(ctx, "192.168.1.0/24", domain.ScanTypeARP)
	require.NoError(t, err)

	require.NoError(t, s.step(ctx))
	assert.Empty(t, runner.executed)

	after, err := store.GetScan(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanQueued, after.Status)
}

func TestStepClearsStaleRunningJob(t *testing.T) {
	s, store, runner := newTestScheduler(t)
	ctx := context.Background()

	stale := &domain.ScanJob{
		ID: "stale", Target: "10.0.0.0/24", Type: domain.ScanTypeARP,
		Status: domain.ScanQueued, CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.CreateScan(ctx, stale))
	require.NoError(t, store.MarkScanRunning(ctx, "stale", time.Now().UTC().Add(-11*time.Minute)))

	job, err := s.Enqueue(ctx, "192.168.1.0/24", domain.ScanTypeARP)
	require.NoError(t, err)
	require.NoError(t, s.step(ctx))

	cleared, err := store.GetScan(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.ScanError, cleared.Status)
	assert.Equal(t, "Stale scan auto-cleared", cleared.ErrorMessage)

	// With the stale job out of the way the queued job ran.
	require.Len(t, runner.executed, 1)
	after, err := store.GetScan(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanDone, after.Status)
}

func TestRecoverInterrupted(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()

	queued, err := s.Enqueue(ctx, "192.168.1.0/24", domain.ScanTypeARP)
	require.NoError(t, err)
	running := &domain.ScanJob{
		ID: "running", Target: "10.0.0.0/24", Type: domain.ScanTypePing,
		Status: domain.ScanQueued, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateScan(ctx, running))
	require.NoError(t, store.MarkScanRunning(ctx, "running", time.Now().UTC()))

	require.NoError(t, s.RecoverInterrupted(ctx))

	for _, id := range []string{queued.ID, "running"} {
		job, err := store.GetScan(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.ScanInterrupted, job.Status)
		assert.Equal(t, "Interrupted by server restart", job.ErrorMessage)
	}
}

func TestRunSchedulesWhileJobExecutes(t *testing.T) {
	s, store, runner := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	runner.block = release

	// A job the runner loop picks up and sits on.
	_, err := s.Enqueue(ctx, "172.16.0.0/24", domain.ScanTypePing)
	require.NoError(t, err)
	require.NoError(t, store.SetConfigValue(ctx, ConfigKeySubnets, `["192.168.77.0/24"]`))

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Global discovery fires on its own tick even while the job blocks
	// the runner loop.
	require.Eventually(t, func() bool {
		scans, err := store.ListScans(ctx, 0)
		if err != nil {
			return false
		}
		for _, job := range scans {
			if job.Target == "192.168.77.0/24" {
				return true
			}
		}
		return false
	}, 8*time.Second, 100*time.Millisecond)

	close(release)
	cancel()
	<-done
}

func TestGlobalDiscoveryFiresImmediatelyThenWaits(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, store.SetConfigValue(ctx, ConfigKeySubnets, `["192.168.2.0/24", "192.168.1.0/24"]`))
	require.NoError(t, store.SetConfigValue(ctx, ConfigKeyInterval, "300"))

	require.NoError(t, s.handleSchedules(ctx))

	scans, err := store.ListScans(ctx, 0)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	// Subnets are sorted and space-joined into one combined target.
	assert.Equal(t, "192.168.1.0/24 192.168.2.0/24", scans[0].Target)
	assert.Equal(t, domain.ScanTypeARP, scans[0].Type)

	// The interval has not elapsed, so nothing new is queued.
	require.NoError(t, s.handleSchedules(ctx))
	scans, err = store.ListScans(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, scans, 1)

	_, err = store.GetConfigValue(ctx, ConfigKeyLastRun)
	assert.NoError(t, err)
}

func TestGlobalDiscoveryBareStringSubnet(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, store.SetConfigValue(ctx, ConfigKeySubnets, "192.168.5.0/24"))
	require.NoError(t, s.handleSchedules(ctx))

	scans, err := store.ListScans(ctx, 0)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "192.168.5.0/24", scans[0].Target)
}

func TestUserScheduleFiresWhenDue(t *testing.T) {
	s, store, _ := newTestScheduler(t)
	ctx := context.Background()

	sched, err := s.CreateSchedule(ctx, "nightly", "192.168.9.0/24", domain.ScanTypePing, 3600)
	require.NoError(t, err)

	require.NoError(t, s.handleSchedules(ctx))

	scans, err := store.ListScans(ctx, 0)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "192.168.9.0/24", scans[0].Target)

	after, err := store.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, sched.ID, after[0].ID)
	require.NotNil(t, after[0].NextRunAt)
	assert.True(t, after[0].NextRunAt.After(time.Now().UTC().Add(59*time.Minute)))
}

func TestCreateScheduleValidatesTarget(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	_, err := s.CreateSchedule(context.Background(), "bad", "not-a-subnet", domain.ScanTypePing, 60)
	assert.Error(t, err)
	_, err = s.CreateSchedule(context.Background(), "bad", "192.168.1.0/24", domain.ScanTypePing, 0)
	assert.Error(t, err)
}
