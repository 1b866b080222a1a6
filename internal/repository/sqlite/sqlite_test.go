package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanwatch/internal/domain"
	"lanwatch/internal/repository"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedDevice(t *testing.T, s *Store, id, mac, ip string) *domain.Device {
	t.Helper()
	now := time.Now().UTC()
	dev := &domain.Device{
		ID: id, MAC: mac, IP: ip,
		DeviceType: "unknown", Icon: "help-circle",
		Status: domain.StatusOnline, IPKind: domain.IPKindUnknown,
		FirstSeen: now, LastSeen: now,
		Attributes: map[string]string{},
	}
	require.NoError(t, s.CreateDevice(context.Background(), dev))
	return dev
}

func TestDeviceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dev := seedDevice(t, s, "d1", "aa:bb:cc:dd:ee:ff", "192.168.1.5")
	dev.Hostname = "box.lan"
	dev.OpenPorts = []int{22, 443}
	dev.Attributes["room"] = "attic"
	require.NoError(t, s.UpdateDevice(ctx, dev))

	got, err := s.GetDevice(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "box.lan", got.Hostname)
	assert.Equal(t, []int{22, 443}, got.OpenPorts)
	assert.Equal(t, "attic", got.Attributes["room"])
	assert.WithinDuration(t, dev.LastSeen, got.LastSeen, time.Millisecond)

	byMAC, err := s.GetDeviceByMAC(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "d1", byMAC.ID)

	byIP, err := s.GetDeviceByIP(ctx, "192.168.1.5")
	require.NoError(t, err)
	assert.Equal(t, "d1", byIP.ID)
}

func TestDeviceNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDevice(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.GetDeviceByMAC(ctx, "aa:aa:aa:aa:aa:aa")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.GetDeviceByIP(ctx, "10.9.9.9")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = s.UpdateDevice(ctx, &domain.Device{ID: "missing"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEmptyMACNeverMatches(t *testing.T) {
	s := newTestStore(t)
	seedDevice(t, s, "d1", "", "192.168.1.6")

	_, err := s.GetDeviceByMAC(context.Background(), "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListOnlineSeenBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := seedDevice(t, s, "old", "aa:bb:cc:00:00:01", "192.168.1.7")
	old.LastSeen = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.UpdateDevice(ctx, old))
	seedDevice(t, s, "fresh", "aa:bb:cc:00:00:02", "192.168.1.8")

	stale, err := s.ListOnlineSeenBefore(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestUpsertPortRefreshesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDevice(t, s, "d1", "aa:bb:cc:00:00:03", "192.168.1.9")

	first := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.UpsertPort(ctx, domain.Port{
		DeviceID: "d1", Port: 22, Protocol: "tcp", Service: "ssh",
		Banner: "SSH-2.0-OpenSSH_9.6", LastSeen: first,
	}))

	// Re-observation without a banner keeps the old banner.
	second := time.Now().UTC()
	require.NoError(t, s.UpsertPort(ctx, domain.Port{
		DeviceID: "d1", Port: 22, Protocol: "tcp", Service: "ssh", LastSeen: second,
	}))

	ports, err := s.ListPorts(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "SSH-2.0-OpenSSH_9.6", ports[0].Banner)
	assert.WithinDuration(t, second, ports[0].LastSeen, time.Millisecond)
}

func TestScanQueueOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &domain.ScanJob{
		ID: "older", Target: "a", Type: domain.ScanTypeARP,
		Status: domain.ScanQueued, CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	newer := &domain.ScanJob{
		ID: "newer", Target: "b", Type: domain.ScanTypeARP,
		Status: domain.ScanQueued, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateScan(ctx, newer))
	require.NoError(t, s.CreateScan(ctx, older))

	next, err := s.NextQueuedScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "older", next.ID)
}

func TestNextQueuedScanEmpty(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NextQueuedScan(context.Background())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMarkScanRunningOnlyFromQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &domain.ScanJob{
		ID: "j1", Target: "a", Type: domain.ScanTypeARP,
		Status: domain.ScanQueued, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateScan(ctx, job))
	require.NoError(t, s.MarkScanRunning(ctx, "j1", time.Now().UTC()))

	// Already running; a second transition is rejected.
	err := s.MarkScanRunning(ctx, "j1", time.Now().UTC())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	n, err := s.CountRunningScans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepStaleRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &domain.ScanJob{
		ID: "j1", Target: "a", Type: domain.ScanTypeARP,
		Status: domain.ScanQueued, CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.CreateScan(ctx, job))
	require.NoError(t, s.MarkScanRunning(ctx, "j1", time.Now().UTC().Add(-30*time.Minute)))

	n, err := s.SweepStaleRunning(ctx, time.Now().UTC().Add(-10*time.Minute), "Stale scan auto-cleared")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetScan(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.ScanError, got.Status)
	assert.Equal(t, "Stale scan auto-cleared", got.ErrorMessage)
}

func TestMarkActiveInterrupted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	queued := &domain.ScanJob{
		ID: "q", Target: "a", Type: domain.ScanTypeARP,
		Status: domain.ScanQueued, CreatedAt: time.Now().UTC(),
	}
	done := &domain.ScanJob{
		ID: "d", Target: "b", Type: domain.ScanTypeARP,
		Status: domain.ScanDone, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateScan(ctx, queued))
	require.NoError(t, s.CreateScan(ctx, done))

	n, err := s.MarkActiveInterrupted(ctx, time.Now().UTC(), "Interrupted by server restart")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetScan(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, domain.ScanDone, got.Status)
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetConfigValue(ctx, "scan_subnets")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.SetConfigValue(ctx, "scan_subnets", `["192.168.1.0/24"]`))
	require.NoError(t, s.SetConfigValue(ctx, "scan_subnets", `["10.0.0.0/24"]`))

	v, err := s.GetConfigValue(ctx, "scan_subnets")
	require.NoError(t, err)
	assert.Equal(t, `["10.0.0.0/24"]`, v)
}

func TestVendorCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.CountVendors(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.UpsertVendor(ctx, "AA:BB:CC", "Acme"))
	require.NoError(t, s.UpsertVendor(ctx, "AA:BB:CC", "Acme Networks"))

	v, err := s.GetVendorByOUI(ctx, "AA:BB:CC")
	require.NoError(t, err)
	assert.Equal(t, "Acme Networks", v)

	n, err = s.CountVendors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScanResultsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	res := &domain.ScanResult{
		ID: "r1", ScanID: "j1", IP: "192.168.1.4", MAC: "aa:bb:cc:dd:ee:ff",
		Hostname: "host.lan",
		Ports:    []domain.PortFinding{{Port: 80, Protocol: "tcp", Service: "http"}},
		FirstSeen: now, LastSeen: now,
	}
	require.NoError(t, s.CreateScanResult(ctx, res))

	got, err := s.ListScanResults(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "192.168.1.4", got[0].IP)
	require.Len(t, got[0].Ports, 1)
	assert.Equal(t, 80, got[0].Ports[0].Port)
}

func TestStatusHistoryOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDevice(t, s, "d1", "aa:bb:cc:00:00:04", "192.168.1.11")

	base := time.Now().UTC().Add(-time.Hour)
	for i, status := range []domain.DeviceStatus{domain.StatusOnline, domain.StatusOffline, domain.StatusOnline} {
		require.NoError(t, s.AppendStatusEvent(ctx, domain.StatusEvent{
			ID: string(rune('a' + i)), DeviceID: "d1", Status: status,
			ChangedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := s.ListStatusEvents(ctx, "d1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Newest first.
	assert.Equal(t, domain.StatusOnline, events[0].Status)
	assert.Equal(t, domain.StatusOffline, events[1].Status)
}
