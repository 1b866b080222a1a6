// Package repository defines the persistence interface for the inventory.
//
// The Store interface covers devices, ports, status history, scan jobs,
// scan results, schedules, config rows and the OUI vendor cache. Callers
// depend on this interface; the sqlite subpackage is the implementation.
//
// Not-found lookups return ErrNotFound so callers can distinguish absence
// from failure with errors.Is.
package repository
