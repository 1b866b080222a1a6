package repository

import (
	"context"
	"time"

	"lanwatch/internal/domain"
)

// Store defines the persistence surface consumed by the scan engine.
// The sqlite subpackage provides the only production implementation.
type Store interface {
	// Devices
	GetDevice(ctx context.Context, id string) (*domain.Device, error)
	GetDeviceByMAC(ctx context.Context, mac string) (*domain.Device, error)
	GetDeviceByIP(ctx context.Context, ip string) (*domain.Device, error)
	ListDevices(ctx context.Context) ([]*domain.Device, error)
	ListOnlineSeenBefore(ctx context.Context, cutoff time.Time) ([]*domain.Device, error)
	CreateDevice(ctx context.Context, d *domain.Device) error
	UpdateDevice(ctx context.Context, d *domain.Device) error

	// Ports (insert-or-update on (device_id, port, protocol))
	UpsertPort(ctx context.Context, p domain.Port) error
	ListPorts(ctx context.Context, deviceID string) ([]domain.Port, error)

	// Status history (append-only)
	AppendStatusEvent(ctx context.Context, e domain.StatusEvent) error
	ListStatusEvents(ctx context.Context, deviceID string, limit int) ([]domain.StatusEvent, error)

	// Scan jobs
	CreateScan(ctx context.Context, job *domain.ScanJob) error
	GetScan(ctx context.Context, id string) (*domain.ScanJob, error)
	ListScans(ctx context.Context, limit int) ([]*domain.ScanJob, error)
	ActiveOrRecentScans(ctx context.Context, createdAfter time.Time) ([]*domain.ScanJob, error)
	NextQueuedScan(ctx context.Context) (*domain.ScanJob, error)
	CountRunningScans(ctx context.Context) (int, error)
	MarkScanRunning(ctx context.Context, id string, startedAt time.Time) error
	MarkScanFinished(ctx context.Context, id string, status domain.ScanStatus, finishedAt time.Time, errMsg string) error
	SweepStaleRunning(ctx context.Context, startedBefore time.Time, errMsg string) (int, error)
	MarkActiveInterrupted(ctx context.Context, finishedAt time.Time, errMsg string) (int, error)

	// Scan results (write-once)
	CreateScanResult(ctx context.Context, res *domain.ScanResult) error
	ListScanResults(ctx context.Context, scanID string) ([]*domain.ScanResult, error)

	// Config key/value rows (insert-or-update on key)
	GetConfigValue(ctx context.Context, key string) (string, error)
	SetConfigValue(ctx context.Context, key, value string) error

	// Schedules
	CreateSchedule(ctx context.Context, s *domain.Schedule) error
	ListSchedules(ctx context.Context) ([]*domain.Schedule, error)
	DueSchedules(ctx context.Context, now time.Time) ([]*domain.Schedule, error)
	MarkScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error

	// OUI vendor table (insert-or-update on oui)
	GetVendorByOUI(ctx context.Context, oui string) (string, error)
	UpsertVendor(ctx context.Context, oui, vendor string) error
	CountVendors(ctx context.Context) (int, error)

	// Close releases resources
	Close() error
}
