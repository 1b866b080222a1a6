package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lanwatch/internal/domain"
)

const scanColumns = `id, target, scan_type, status, created_at, started_at, finished_at, error_message`

func scanJob(row interface{ Scan(...any) error }) (*domain.ScanJob, error) {
	var j domain.ScanJob
	var createdAt string
	var startedAt, finishedAt sql.NullString
	err := row.Scan(&j.ID, &j.Target, &j.Type, &j.Status, &createdAt,
		&startedAt, &finishedAt, &j.ErrorMessage)
	if err != nil {
		return nil, err
	}
	j.CreatedAt = parseTime(createdAt)
	j.StartedAt = parseTimePtr(startedAt)
	j.FinishedAt = parseTimePtr(finishedAt)
	return &j, nil
}

// CreateScan enqueues a job row.
func (s *Store) CreateScan(ctx context.Context, job *domain.ScanJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (`+scanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Target, job.Type, job.Status, fmtTime(job.CreatedAt),
		fmtTimePtr(job.StartedAt), fmtTimePtr(job.FinishedAt), job.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create scan %q: %w", job.ID, err)
	}
	return nil
}

// GetScan fetches a job by id.
func (s *Store) GetScan(ctx context.Context, id string) (*domain.ScanJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, wrapNotFound(err, "get scan %q", id)
	}
	return j, nil
}

// ListScans returns jobs newest first. limit <= 0 means no limit.
func (s *Store) ListScans(ctx context.Context, limit int) ([]*domain.ScanJob, error) {
	q := `SELECT ` + scanColumns + ` FROM scans ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ActiveOrRecentScans returns jobs that are queued or running, plus jobs
// in any state created after the given instant. The scheduler uses this
// for single-flight admission.
func (s *Store) ActiveOrRecentScans(ctx context.Context, createdAfter time.Time) ([]*domain.ScanJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scanColumns+` FROM scans
		WHERE status IN (?, ?) OR created_at > ?
		ORDER BY created_at DESC`,
		domain.ScanQueued, domain.ScanRunning, fmtTime(createdAfter))
	if err != nil {
		return nil, fmt.Errorf("list active scans: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// NextQueuedScan returns the oldest queued job, or repository.ErrNotFound
// when the queue is empty.
func (s *Store) NextQueuedScan(ctx context.Context) (*domain.ScanJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scanColumns+` FROM scans WHERE status = ?
		ORDER BY created_at ASC LIMIT 1`, domain.ScanQueued)
	j, err := scanJob(row)
	if err != nil {
		return nil, wrapNotFound(err, "next queued scan")
	}
	return j, nil
}

// CountRunningScans reports how many jobs are currently running.
func (s *Store) CountRunningScans(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scans WHERE status = ?`, domain.ScanRunning).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running scans: %w", err)
	}
	return n, nil
}

// MarkScanRunning transitions a queued job to running.
func (s *Store) MarkScanRunning(ctx context.Context, id string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		domain.ScanRunning, fmtTime(startedAt), id, domain.ScanQueued)
	if err != nil {
		return fmt.Errorf("mark scan %q running: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapNotFound(sql.ErrNoRows, "mark scan %q running", id)
	}
	return nil
}

// MarkScanFinished moves a job to a terminal state with an optional
// error message.
func (s *Store) MarkScanFinished(ctx context.Context, id string, status domain.ScanStatus, finishedAt time.Time, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, finished_at = ?, error_message = ? WHERE id = ?`,
		status, fmtTime(finishedAt), errMsg, id)
	if err != nil {
		return fmt.Errorf("mark scan %q %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapNotFound(sql.ErrNoRows, "mark scan %q %s", id, status)
	}
	return nil
}

// SweepStaleRunning fails every running job started before the cutoff,
// returning how many were swept.
func (s *Store) SweepStaleRunning(ctx context.Context, startedBefore time.Time, errMsg string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, finished_at = ?, error_message = ?
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		domain.ScanError, fmtTime(time.Now()), errMsg,
		domain.ScanRunning, fmtTime(startedBefore))
	if err != nil {
		return 0, fmt.Errorf("sweep stale scans: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkActiveInterrupted moves every queued or running job to interrupted.
// Called once at startup to clean up after an unclean shutdown.
func (s *Store) MarkActiveInterrupted(ctx context.Context, finishedAt time.Time, errMsg string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, finished_at = ?, error_message = ?
		WHERE status IN (?, ?)`,
		domain.ScanInterrupted, fmtTime(finishedAt), errMsg,
		domain.ScanQueued, domain.ScanRunning)
	if err != nil {
		return 0, fmt.Errorf("mark active scans interrupted: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func collectJobs(rows *sql.Rows) ([]*domain.ScanJob, error) {
	var out []*domain.ScanJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CreateScanResult writes one immutable per-device result row.
func (s *Store) CreateScanResult(ctx context.Context, res *domain.ScanResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_results (id, scan_id, ip, mac, hostname, open_ports, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.ScanID, res.IP, res.MAC, res.Hostname,
		marshalJSON(emptyIfNilPorts(res.Ports)), fmtTime(res.FirstSeen), fmtTime(res.LastSeen))
	if err != nil {
		return fmt.Errorf("create scan result for %q: %w", res.IP, err)
	}
	return nil
}

// ListScanResults returns all result rows recorded for a job.
func (s *Store) ListScanResults(ctx context.Context, scanID string) ([]*domain.ScanResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scan_id, ip, mac, hostname, open_ports, first_seen, last_seen
		FROM scan_results WHERE scan_id = ? ORDER BY ip`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list scan results for %q: %w", scanID, err)
	}
	defer rows.Close()

	var out []*domain.ScanResult
	for rows.Next() {
		var r domain.ScanResult
		var ports, firstSeen, lastSeen string
		if err := rows.Scan(&r.ID, &r.ScanID, &r.IP, &r.MAC, &r.Hostname, &ports, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		r.Ports = unmarshalPortFindings(ports)
		r.FirstSeen = parseTime(firstSeen)
		r.LastSeen = parseTime(lastSeen)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func emptyIfNilPorts(p []domain.PortFinding) []domain.PortFinding {
	if p == nil {
		return []domain.PortFinding{}
	}
	return p
}

// CreateSchedule inserts a recurring scan definition.
func (s *Store) CreateSchedule(ctx context.Context, sc *domain.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_schedules (id, name, target, scan_type, interval_seconds, enabled, last_run_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.Target, sc.Type, sc.IntervalSeconds, boolToInt(sc.Enabled),
		fmtTimePtr(sc.LastRunAt), fmtTimePtr(sc.NextRunAt))
	if err != nil {
		return fmt.Errorf("create schedule %q: %w", sc.Name, err)
	}
	return nil
}

// ListSchedules returns every schedule, enabled or not.
func (s *Store) ListSchedules(ctx context.Context) ([]*domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, target, scan_type, interval_seconds, enabled, last_run_at, next_run_at
		FROM scan_schedules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// DueSchedules returns enabled schedules whose next_run_at has passed or
// was never set.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]*domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, target, scan_type, interval_seconds, enabled, last_run_at, next_run_at
		FROM scan_schedules
		WHERE enabled = 1 AND (next_run_at IS NULL OR next_run_at <= ?)`,
		fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// MarkScheduleRun stamps last_run_at and the next due time.
func (s *Store) MarkScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scan_schedules SET last_run_at = ?, next_run_at = ? WHERE id = ?`,
		fmtTime(lastRun), fmtTime(nextRun), id)
	if err != nil {
		return fmt.Errorf("mark schedule %q run: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapNotFound(sql.ErrNoRows, "mark schedule %q run", id)
	}
	return nil
}

func collectSchedules(rows *sql.Rows) ([]*domain.Schedule, error) {
	var out []*domain.Schedule
	for rows.Next() {
		var sc domain.Schedule
		var enabled int
		var lastRun, nextRun sql.NullString
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Target, &sc.Type,
			&sc.IntervalSeconds, &enabled, &lastRun, &nextRun); err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		sc.Enabled = enabled != 0
		sc.LastRunAt = parseTimePtr(lastRun)
		sc.NextRunAt = parseTimePtr(nextRun)
		out = append(out, &sc)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
