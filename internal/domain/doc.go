// Package domain defines the core types for the lanwatch network inventory.
//
// This package contains the entities the scan engine reconciles: devices,
// their ports and status history, scan jobs with their lifecycle states,
// immutable per-scan results, and recurring schedules.
//
// # Device Identity
//
// A device is uniquely identified by MAC address when one is known. Devices
// discovered before their MAC is learned are keyed by IP; when a later scan
// reveals the MAC, reconciliation attaches it to the existing row instead of
// creating a duplicate.
//
// # Sticky Fields
//
// DisplayName, DeviceType, Icon, Vendor and arbitrary Attributes keys are
// sticky: once set to a non-placeholder value (by an operator or by
// enrichment), automated reconciliation may fill them only while they hold
// a recognized placeholder ("unknown", "help-circle", an IP-shaped name).
//
// # Scan Lifecycle
//
// ScanJob moves queued -> running -> done|error. Jobs left queued or
// running by a dead process are marked interrupted at startup.
//
// # Design Principles
//
// - No database or network dependencies
// - Pure domain logic; reconciliation behavior lives in internal/registry
package domain
