// Package registry reconciles probe observations into the device
// inventory.
//
// Identity resolution is MAC-first with IP fallback: an observation
// carrying a MAC attaches to the device with that MAC even if the IP
// moved; without a MAC it attaches to the device currently holding the
// IP. Operator-set fields are sticky and only overwritten while they
// hold a recognized placeholder.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lanwatch/internal/classify"
	"lanwatch/internal/domain"
	"lanwatch/internal/enrich"
	"lanwatch/internal/repository"
)

// Notifier receives device status transitions. The MQTT publisher
// implements this; a no-op implementation is used when MQTT is disabled.
type Notifier interface {
	DeviceOnline(snapshot domain.DeviceSnapshot)
	DeviceOffline(snapshot domain.DeviceSnapshot)
}

// Enricher schedules asynchronous vendor lookups.
type Enricher interface {
	Enqueue(req enrich.Request)
}

// Registry owns all writes to the device tables.
type Registry struct {
	store    repository.Store
	notifier Notifier
	enricher Enricher
	log      zerolog.Logger
}

// New builds a Registry. The enricher is attached separately via
// SetEnricher because the enricher needs the registry as its updater.
func New(store repository.Store, notifier Notifier, log zerolog.Logger) *Registry {
	return &Registry{
		store:    store,
		notifier: notifier,
		log:      log.With().Str("component", "registry").Logger(),
	}
}

// SetEnricher attaches the vendor lookup pipeline.
func (r *Registry) SetEnricher(e Enricher) {
	r.enricher = e
}

// UpsertFromObservation folds one probe observation into the inventory
// and returns the device along with whether it transitioned to online.
func (r *Registry) UpsertFromObservation(ctx context.Context, obs domain.Observation) (*domain.Device, bool, error) {
	now := time.Now().UTC()
	mac := domain.NormalizeMAC(obs.MAC)
	// Common prefixes resolve inline; only the rest go through the
	// async lookup pipeline.
	localVendor := enrich.LocalVendor(mac)

	dev, err := r.findExisting(ctx, mac, obs.IP)
	if err != nil {
		return nil, false, err
	}

	var cameOnline bool
	if dev == nil {
		dev, err = r.createDevice(ctx, obs, mac, localVendor, now)
		if err != nil {
			return nil, false, err
		}
		cameOnline = true
	} else {
		cameOnline = dev.Status != domain.StatusOnline
		if err := r.refreshDevice(ctx, dev, obs, mac, localVendor, now); err != nil {
			return nil, false, err
		}
	}

	for _, pf := range obs.Ports {
		port := domain.Port{
			DeviceID: dev.ID,
			Port:     pf.Port,
			Protocol: pf.Protocol,
			Service:  pf.Service,
			Banner:   pf.Banner,
			LastSeen: now,
		}
		if err := r.store.UpsertPort(ctx, port); err != nil {
			return nil, false, err
		}
	}

	if cameOnline {
		if err := r.recordTransition(ctx, dev, domain.StatusOnline, now); err != nil {
			return nil, false, err
		}
		r.notifier.DeviceOnline(dev.Snapshot(now))
	}

	if r.enricher != nil && dev.MAC != "" && domain.IsFillable(dev.Vendor) {
		r.enricher.Enqueue(enrich.Request{DeviceID: dev.ID, MAC: dev.MAC})
	}
	return dev, cameOnline, nil
}

func (r *Registry) findExisting(ctx context.Context, mac, ip string) (*domain.Device, error) {
	if mac != "" {
		dev, err := r.store.GetDeviceByMAC(ctx, mac)
		if err == nil {
			return dev, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	dev, err := r.store.GetDeviceByIP(ctx, ip)
	if err == nil {
		// Guard against stealing a row that belongs to another MAC: if
		// the row has a MAC and the observation has a different one,
		// this is a new device on a recycled address.
		if mac != "" && dev.MAC != "" && dev.MAC != mac {
			return nil, nil
		}
		return dev, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *Registry) createDevice(ctx context.Context, obs domain.Observation, mac, vendor string, now time.Time) (*domain.Device, error) {
	cls := r.classifyObservation(obs.IP, obs.Hostname, vendor, obs.Ports)
	display := obs.Hostname
	if display == "" {
		display = obs.IP
	}
	dev := &domain.Device{
		ID:          uuid.NewString(),
		MAC:         mac,
		IP:          obs.IP,
		Hostname:    obs.Hostname,
		DisplayName: display,
		Vendor:      vendor,
		DeviceType:  cls.Type,
		Icon:        cls.Icon,
		Status:      domain.StatusOnline,
		IPKind:      domain.IPKindUnknown,
		OpenPorts:   portNumbers(obs.Ports),
		FirstSeen:   now,
		LastSeen:    now,
		Attributes:  map[string]string{},
	}
	if err := r.store.CreateDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("create device for %s: %w", obs.IP, err)
	}
	r.log.Info().Str("device_id", dev.ID).Str("ip", dev.IP).Str("mac", dev.MAC).Msg("new device discovered")
	return dev, nil
}

func (r *Registry) refreshDevice(ctx context.Context, dev *domain.Device, obs domain.Observation, mac, vendor string, now time.Time) error {
	dev.LastSeen = now
	dev.Status = domain.StatusOnline
	dev.IP = obs.IP
	if dev.MAC == "" {
		dev.MAC = mac
	}
	if vendor != "" && domain.IsFillable(dev.Vendor) {
		dev.Vendor = vendor
	}
	if obs.Hostname != "" {
		dev.Hostname = obs.Hostname
	}
	if domain.IsPlaceholderName(dev.DisplayName, dev.IP) && obs.Hostname != "" {
		dev.DisplayName = obs.Hostname
	}
	dev.OpenPorts = mergePorts(dev.OpenPorts, portNumbers(obs.Ports))

	if domain.IsFillable(dev.DeviceType) || domain.IsFillable(dev.Icon) {
		cls := r.classifyObservation(dev.IP, dev.Hostname, dev.Vendor, obs.Ports)
		if domain.IsFillable(dev.DeviceType) {
			dev.DeviceType = cls.Type
		}
		if domain.IsFillable(dev.Icon) {
			dev.Icon = cls.Icon
		}
	}

	if err := r.store.UpdateDevice(ctx, dev); err != nil {
		return fmt.Errorf("refresh device %s: %w", dev.ID, err)
	}
	return nil
}

// classifyObservation applies the rule table plus the gateway address
// heuristic: hosts at the .1 address default to Router/Gateway when
// nothing stronger matched.
func (r *Registry) classifyObservation(ip, hostname, vendor string, ports []domain.PortFinding) classify.Result {
	cls := classify.Classify(hostname, vendor, portNumbers(ports))
	if cls.Type == domain.TypeUnknown && strings.HasSuffix(ip, ".1") {
		cls = classify.Result{Type: "Router/Gateway", Icon: classify.Icons["Router/Gateway"]}
	}
	return cls
}

// ApplyEnrichment folds a resolved vendor name into a device and
// re-runs classification with the stronger evidence. Sticky fields are
// honored throughout.
func (r *Registry) ApplyEnrichment(ctx context.Context, deviceID, vendor string) error {
	dev, err := r.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	changed := false
	if domain.IsFillable(dev.Vendor) && vendor != "" {
		dev.Vendor = vendor
		changed = true
	}
	if domain.IsFillable(dev.DeviceType) || domain.IsFillable(dev.Icon) {
		cls := classify.Classify(dev.Hostname, dev.Vendor, dev.OpenPorts)
		if cls.Type != domain.TypeUnknown {
			if domain.IsFillable(dev.DeviceType) {
				dev.DeviceType = cls.Type
				changed = true
			}
			if domain.IsFillable(dev.Icon) {
				dev.Icon = cls.Icon
				changed = true
			}
		}
	}
	if domain.IsPlaceholderName(dev.DisplayName, dev.IP) && vendor != "" {
		dev.DisplayName = vendor
		changed = true
	}
	if !changed {
		return nil
	}
	return r.store.UpdateDevice(ctx, dev)
}

// ApplyPatch applies operator edits. Explicit values always win; a nil
// field is left alone and attribute entries are merged key by key.
func (r *Registry) ApplyPatch(ctx context.Context, deviceID string, patch domain.DevicePatch) (*domain.Device, error) {
	dev, err := r.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if patch.DisplayName != nil {
		dev.DisplayName = *patch.DisplayName
	}
	if patch.DeviceType != nil {
		dev.DeviceType = *patch.DeviceType
	}
	if patch.Icon != nil {
		dev.Icon = *patch.Icon
	}
	if patch.Vendor != nil {
		dev.Vendor = *patch.Vendor
	}
	if patch.IPKind != nil {
		dev.IPKind = *patch.IPKind
	}
	if len(patch.Attributes) > 0 {
		if dev.Attributes == nil {
			dev.Attributes = map[string]string{}
		}
		for k, v := range patch.Attributes {
			dev.Attributes[k] = v
		}
	}
	if err := r.store.UpdateDevice(ctx, dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// ApplyDeepScan merges a full port probe into a device. Findings are
// merged, never replaced: a port missing from this probe may simply
// have been filtered this time around.
func (r *Registry) ApplyDeepScan(ctx context.Context, deviceID string, findings []domain.PortFinding) error {
	dev, err := r.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	dev.OpenPorts = mergePorts(dev.OpenPorts, portNumbers(findings))
	dev.LastSeen = now
	if err := r.store.UpdateDevice(ctx, dev); err != nil {
		return err
	}
	for _, pf := range findings {
		port := domain.Port{
			DeviceID: deviceID,
			Port:     pf.Port,
			Protocol: pf.Protocol,
			Service:  pf.Service,
			Banner:   pf.Banner,
			LastSeen: now,
		}
		if err := r.store.UpsertPort(ctx, port); err != nil {
			return err
		}
	}
	return nil
}

// OfflineSweep marks every device still online but unseen since the
// cutoff as offline, recording the transition and notifying. Returns
// how many devices were flipped.
func (r *Registry) OfflineSweep(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := r.store.ListOnlineSeenBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("offline sweep: %w", err)
	}
	now := time.Now().UTC()
	for _, dev := range stale {
		dev.Status = domain.StatusOffline
		if err := r.store.UpdateDevice(ctx, dev); err != nil {
			return 0, fmt.Errorf("offline sweep: %w", err)
		}
		if err := r.recordTransition(ctx, dev, domain.StatusOffline, now); err != nil {
			return 0, err
		}
		r.notifier.DeviceOffline(dev.Snapshot(now))
	}
	if len(stale) > 0 {
		r.log.Info().Int("count", len(stale)).Msg("devices marked offline")
	}
	return len(stale), nil
}

func (r *Registry) recordTransition(ctx context.Context, dev *domain.Device, status domain.DeviceStatus, at time.Time) error {
	event := domain.StatusEvent{
		ID:        uuid.NewString(),
		DeviceID:  dev.ID,
		Status:    status,
		ChangedAt: at,
	}
	if err := r.store.AppendStatusEvent(ctx, event); err != nil {
		return fmt.Errorf("record %s transition for %s: %w", status, dev.ID, err)
	}
	return nil
}

// Device returns one device by id.
func (r *Registry) Device(ctx context.Context, id string) (*domain.Device, error) {
	return r.store.GetDevice(ctx, id)
}

// Devices returns the full inventory.
func (r *Registry) Devices(ctx context.Context) ([]*domain.Device, error) {
	return r.store.ListDevices(ctx)
}

// Ports returns the recorded port rows for a device.
func (r *Registry) Ports(ctx context.Context, deviceID string) ([]domain.Port, error) {
	return r.store.ListPorts(ctx, deviceID)
}

// History returns recent status transitions for a device.
func (r *Registry) History(ctx context.Context, deviceID string, limit int) ([]domain.StatusEvent, error) {
	return r.store.ListStatusEvents(ctx, deviceID, limit)
}

func portNumbers(findings []domain.PortFinding) []int {
	out := make([]int, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Port)
	}
	return out
}

func mergePorts(existing, observed []int) []int {
	seen := make(map[int]bool, len(existing)+len(observed))
	out := make([]int, 0, len(existing)+len(observed))
	for _, p := range existing {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range observed {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
