package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lanwatch/internal/domain"
)

const deviceColumns = `id, mac, ip, hostname, display_name, device_type, icon,
	vendor, status, ip_kind, open_ports, attributes, first_seen, last_seen`

func scanDevice(row interface{ Scan(...any) error }) (*domain.Device, error) {
	var d domain.Device
	var openPorts, attrs, firstSeen, lastSeen string
	err := row.Scan(&d.ID, &d.MAC, &d.IP, &d.Hostname, &d.DisplayName,
		&d.DeviceType, &d.Icon, &d.Vendor, &d.Status, &d.IPKind,
		&openPorts, &attrs, &firstSeen, &lastSeen)
	if err != nil {
		return nil, err
	}
	d.OpenPorts = unmarshalInts(openPorts)
	d.Attributes = unmarshalStringMap(attrs)
	d.FirstSeen = parseTime(firstSeen)
	d.LastSeen = parseTime(lastSeen)
	return &d, nil
}

// GetDevice fetches a device by primary key.
func (s *Store) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		return nil, wrapNotFound(err, "get device %q", id)
	}
	return d, nil
}

// GetDeviceByMAC fetches a device by its canonical MAC address.
func (s *Store) GetDeviceByMAC(ctx context.Context, mac string) (*domain.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE mac = ? AND mac != ''`, mac)
	d, err := scanDevice(row)
	if err != nil {
		return nil, wrapNotFound(err, "get device by mac %q", mac)
	}
	return d, nil
}

// GetDeviceByIP fetches a device by its last known address.
func (s *Store) GetDeviceByIP(ctx context.Context, ip string) (*domain.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE ip = ?`, ip)
	d, err := scanDevice(row)
	if err != nil {
		return nil, wrapNotFound(err, "get device by ip %q", ip)
	}
	return d, nil
}

// ListDevices returns the whole inventory ordered by last_seen, newest first.
func (s *Store) ListDevices(ctx context.Context) ([]*domain.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()
	return collectDevices(rows)
}

// ListOnlineSeenBefore returns devices still marked online whose last_seen
// predates cutoff. The offline sweep flips these after a scan completes.
func (s *Store) ListOnlineSeenBefore(ctx context.Context, cutoff time.Time) ([]*domain.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE status = ? AND last_seen < ?`,
		domain.StatusOnline, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list online seen before: %w", err)
	}
	defer rows.Close()
	return collectDevices(rows)
}

func collectDevices(rows *sql.Rows) ([]*domain.Device, error) {
	var out []*domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateDevice inserts a new device row.
func (s *Store) CreateDevice(ctx context.Context, d *domain.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.MAC, d.IP, d.Hostname, d.DisplayName, d.DeviceType, d.Icon,
		d.Vendor, d.Status, d.IPKind, marshalPorts(d.OpenPorts),
		marshalAttrs(d.Attributes), fmtTime(d.FirstSeen), fmtTime(d.LastSeen))
	if err != nil {
		return fmt.Errorf("create device %q: %w", d.ID, err)
	}
	return nil
}

// UpdateDevice rewrites every mutable column of an existing device row.
func (s *Store) UpdateDevice(ctx context.Context, d *domain.Device) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET mac = ?, ip = ?, hostname = ?, display_name = ?,
			device_type = ?, icon = ?, vendor = ?, status = ?, ip_kind = ?,
			open_ports = ?, attributes = ?, first_seen = ?, last_seen = ?
		WHERE id = ?`,
		d.MAC, d.IP, d.Hostname, d.DisplayName, d.DeviceType, d.Icon,
		d.Vendor, d.Status, d.IPKind, marshalPorts(d.OpenPorts),
		marshalAttrs(d.Attributes), fmtTime(d.FirstSeen), fmtTime(d.LastSeen),
		d.ID)
	if err != nil {
		return fmt.Errorf("update device %q: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapNotFound(sql.ErrNoRows, "update device %q", d.ID)
	}
	return nil
}

func marshalPorts(ports []int) string {
	if ports == nil {
		ports = []int{}
	}
	return marshalJSON(ports)
}

func marshalAttrs(attrs map[string]string) string {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return marshalJSON(attrs)
}

// UpsertPort inserts a port observation or refreshes the existing row's
// service, banner and last_seen. Ports are never deleted here; absence in
// a later scan is not evidence the port closed.
func (s *Store) UpsertPort(ctx context.Context, p domain.Port) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_ports (device_id, port, protocol, service, banner, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, port, protocol) DO UPDATE SET
			service   = excluded.service,
			banner    = CASE WHEN excluded.banner != '' THEN excluded.banner ELSE device_ports.banner END,
			last_seen = excluded.last_seen`,
		p.DeviceID, p.Port, p.Protocol, p.Service, p.Banner, fmtTime(p.LastSeen))
	if err != nil {
		return fmt.Errorf("upsert port %d/%s on %q: %w", p.Port, p.Protocol, p.DeviceID, err)
	}
	return nil
}

// ListPorts returns all recorded ports for a device ordered by port number.
func (s *Store) ListPorts(ctx context.Context, deviceID string) ([]domain.Port, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, port, protocol, service, banner, last_seen
		FROM device_ports WHERE device_id = ? ORDER BY port, protocol`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list ports for %q: %w", deviceID, err)
	}
	defer rows.Close()

	var out []domain.Port
	for rows.Next() {
		var p domain.Port
		var lastSeen string
		if err := rows.Scan(&p.DeviceID, &p.Port, &p.Protocol, &p.Service, &p.Banner, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan port row: %w", err)
		}
		p.LastSeen = parseTime(lastSeen)
		out = append(out, p)
	}
	return out, rows.Err()
}

// AppendStatusEvent records one status transition. Rows are append-only.
func (s *Store) AppendStatusEvent(ctx context.Context, e domain.StatusEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_status_history (id, device_id, status, changed_at)
		VALUES (?, ?, ?, ?)`,
		e.ID, e.DeviceID, e.Status, fmtTime(e.ChangedAt))
	if err != nil {
		return fmt.Errorf("append status event for %q: %w", e.DeviceID, err)
	}
	return nil
}

// ListStatusEvents returns the most recent transitions for a device,
// newest first. limit <= 0 means no limit.
func (s *Store) ListStatusEvents(ctx context.Context, deviceID string, limit int) ([]domain.StatusEvent, error) {
	q := `SELECT id, device_id, status, changed_at FROM device_status_history
		WHERE device_id = ? ORDER BY changed_at DESC`
	args := []any{deviceID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list status events for %q: %w", deviceID, err)
	}
	defer rows.Close()

	var out []domain.StatusEvent
	for rows.Next() {
		var e domain.StatusEvent
		var changedAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Status, &changedAt); err != nil {
			return nil, fmt.Errorf("scan status event row: %w", err)
		}
		e.ChangedAt = parseTime(changedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
