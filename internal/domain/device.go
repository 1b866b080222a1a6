package domain

import (
	"net"
	"strings"
	"time"
)

// DeviceStatus tracks whether a device answered the most recent sweep
type DeviceStatus string

const (
	StatusUnknown DeviceStatus = "unknown"
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// IPKind describes how a device's address is assigned
type IPKind string

const (
	IPKindStatic  IPKind = "static"
	IPKindDynamic IPKind = "dynamic"
	IPKindUnknown IPKind = "unknown"
)

// Placeholder values that automated reconciliation is allowed to overwrite.
// Anything else in a user-settable field is treated as operator intent.
const (
	TypeUnknown     = "unknown"
	IconPlaceholder = "help-circle"
)

// Device is a single tracked host on the network.
// Identity is the MAC address when known; devices discovered before their
// MAC is learned are keyed by IP until reconciliation links them up.
type Device struct {
	ID          string            `json:"id"`
	MAC         string            `json:"mac,omitempty"`
	IP          string            `json:"ip"`
	Hostname    string            `json:"hostname,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	DeviceType  string            `json:"device_type,omitempty"`
	Icon        string            `json:"icon,omitempty"`
	Vendor      string            `json:"vendor,omitempty"`
	Status      DeviceStatus      `json:"status"`
	IPKind      IPKind            `json:"ip_kind"`
	OpenPorts   []int             `json:"open_ports"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastSeen    time.Time         `json:"last_seen"`
	Attributes  map[string]string `json:"attributes"`
}

// Port is one observed open port on a device. Rows are keyed by
// (device_id, port, protocol) and refreshed on every probe that sees
// the port open; they are never deleted just because a later scan
// did not observe them.
type Port struct {
	DeviceID string    `json:"device_id"`
	Port     int       `json:"port"`
	Protocol string    `json:"protocol"`
	Service  string    `json:"service"`
	Banner   string    `json:"banner,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// DevicePatch enumerates the user-mutable device fields. A nil pointer
// leaves the field untouched; Attributes entries are merged key by key.
type DevicePatch struct {
	DisplayName *string           `json:"display_name,omitempty"`
	DeviceType  *string           `json:"device_type,omitempty"`
	Icon        *string           `json:"icon,omitempty"`
	Vendor      *string           `json:"vendor,omitempty"`
	IPKind      *IPKind           `json:"ip_kind,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// StatusEvent is one row of the append-only status history. A row exists
// only for actual transitions, never for repeat observations.
type StatusEvent struct {
	ID        string       `json:"id"`
	DeviceID  string       `json:"device_id"`
	Status    DeviceStatus `json:"status"`
	ChangedAt time.Time    `json:"changed_at"`
}

// DeviceSnapshot is the resolved metadata handed to notification
// collaborators on a status transition.
type DeviceSnapshot struct {
	ID         string       `json:"id"`
	IP         string       `json:"ip"`
	MAC        string       `json:"mac,omitempty"`
	Name       string       `json:"name,omitempty"`
	Vendor     string       `json:"vendor,omitempty"`
	Icon       string       `json:"icon,omitempty"`
	DeviceType string       `json:"device_type,omitempty"`
	Status     DeviceStatus `json:"status"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Snapshot resolves the device's current metadata for notifications.
func (d *Device) Snapshot(now time.Time) DeviceSnapshot {
	name := d.DisplayName
	if name == "" {
		name = d.Hostname
	}
	if name == "" {
		name = d.IP
	}
	return DeviceSnapshot{
		ID:         d.ID,
		IP:         d.IP,
		MAC:        d.MAC,
		Name:       name,
		Vendor:     d.Vendor,
		Icon:       d.Icon,
		DeviceType: d.DeviceType,
		Status:     d.Status,
		Timestamp:  now,
	}
}

// NormalizeMAC canonicalizes a MAC address to lowercase colon-separated
// form. Returns "" for anything unparseable so callers can treat bad
// input as "MAC unknown".
func NormalizeMAC(mac string) string {
	if mac == "" {
		return ""
	}
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return ""
	}
	return strings.ToLower(hw.String())
}

// OUI returns the vendor prefix (first three octets) of a canonical MAC,
// or "" when the MAC is missing or too short.
func OUI(mac string) string {
	mac = NormalizeMAC(mac)
	if len(mac) < 8 {
		return ""
	}
	return mac[:8]
}

// IsFillable reports whether an automated pipeline may write over the
// current value of a sticky field.
func IsFillable(current string) bool {
	switch current {
	case "", TypeUnknown, IconPlaceholder:
		return true
	}
	return false
}

// IsPlaceholderName reports whether a display name carries no operator
// intent: empty, a bare IP, or equal to the device's current address.
func IsPlaceholderName(name, ip string) bool {
	if name == "" || name == ip {
		return true
	}
	return net.ParseIP(name) != nil
}
