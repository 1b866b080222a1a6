package domain

import "time"

// ScanStatus is the scan job state machine:
// queued -> running -> done | error, with interrupted assigned at startup
// recovery to jobs a previous process left behind.
type ScanStatus string

const (
	ScanQueued      ScanStatus = "queued"
	ScanRunning     ScanStatus = "running"
	ScanDone        ScanStatus = "done"
	ScanError       ScanStatus = "error"
	ScanInterrupted ScanStatus = "interrupted"
)

// ScanType selects the discovery strategy for a job.
type ScanType string

const (
	ScanTypeARP       ScanType = "arp"
	ScanTypePing      ScanType = "ping"
	ScanTypeTCPSYN    ScanType = "tcp-syn"
	ScanTypeDiscovery ScanType = "discovery"
)

// IsDiscovery reports whether a completed job of this type should be
// followed by an offline sweep of devices it did not re-observe.
func (t ScanType) IsDiscovery() bool {
	switch t {
	case ScanTypeARP, ScanTypePing, ScanTypeDiscovery:
		return true
	}
	return false
}

// ScanJob is one queued or executed network sweep. Target may hold
// several space-joined subnets.
type ScanJob struct {
	ID           string     `json:"id"`
	Target       string     `json:"target"`
	Type         ScanType   `json:"scan_type"`
	Status       ScanStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ScanResult is the immutable per-device snapshot recorded while a job
// ran. It is written once by the orchestrator and never updated.
type ScanResult struct {
	ID        string        `json:"id"`
	ScanID    string        `json:"scan_id"`
	IP        string        `json:"ip"`
	MAC       string        `json:"mac,omitempty"`
	Hostname  string        `json:"hostname,omitempty"`
	Ports     []PortFinding `json:"open_ports"`
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
}

// Schedule is a recurring user-defined scan.
type Schedule struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Target          string     `json:"target"`
	Type            ScanType   `json:"scan_type"`
	IntervalSeconds int        `json:"interval_seconds"`
	Enabled         bool       `json:"enabled"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
}

// HostFinding is one (ip, mac) pair collected during host discovery.
// MAC may be empty when only reachability was observed.
type HostFinding struct {
	IP  string `json:"ip"`
	MAC string `json:"mac,omitempty"`
}

// PortFinding is one open port observed on a host during probing.
type PortFinding struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Service  string `json:"service"`
	Banner   string `json:"banner,omitempty"`
}

// Observation is everything the prober learned about one host in one
// scan, handed to the registry for reconciliation.
type Observation struct {
	IP       string
	MAC      string
	Hostname string
	Ports    []PortFinding
}

// DedupeFindings collapses duplicate discovery responses. The key is the
// lowercased MAC when present, else the IP; the first occurrence wins and
// later duplicates are discarded, not merged.
func DedupeFindings(raw []HostFinding) []HostFinding {
	seen := make(map[string]bool, len(raw))
	out := make([]HostFinding, 0, len(raw))
	for _, f := range raw {
		key := f.MAC
		if key == "" {
			key = f.IP
		}
		key = normalizeKey(key)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

func normalizeKey(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
