// Package enrich resolves MAC vendor names and feeds the results back
// into the device registry.
//
// Lookups are tiered: a hardcoded table of common prefixes, then the
// local vendor cache, then two public lookup APIs. API hits are written
// back to the cache so each prefix is fetched at most once.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lanwatch/internal/domain"
)

const (
	macVendorsURL = "https://api.macvendors.com/"
	macLookupURL  = "https://api.maclookup.app/v2/macs/"

	lookupTimeout = 5 * time.Second
)

// VendorStore is the slice of the repository the resolver needs.
type VendorStore interface {
	GetVendorByOUI(ctx context.Context, oui string) (string, error)
	UpsertVendor(ctx context.Context, oui, vendor string) error
}

// DeviceUpdater receives resolved vendor names. The registry implements
// this and folds the vendor into classification and sticky fields.
type DeviceUpdater interface {
	ApplyEnrichment(ctx context.Context, deviceID, vendor string) error
}

// Request asks for one device to be enriched.
type Request struct {
	DeviceID string
	MAC      string
}

// Enricher runs vendor lookups on a small worker pool so scans are never
// blocked on external APIs.
type Enricher struct {
	store   VendorStore
	updater DeviceUpdater
	client  *http.Client
	log     zerolog.Logger

	queue   chan Request
	workers int
	wg      sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]bool
}

// New builds an Enricher with the given worker count (minimum 1).
func New(store VendorStore, updater DeviceUpdater, workers int, log zerolog.Logger) *Enricher {
	if workers < 1 {
		workers = 1
	}
	return &Enricher{
		store:    store,
		updater:  updater,
		client:   &http.Client{Timeout: lookupTimeout},
		log:      log.With().Str("component", "enrich").Logger(),
		queue:    make(chan Request, 256),
		workers:  workers,
		inflight: make(map[string]bool),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (e *Enricher) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case req := <-e.queue:
					e.process(ctx, req)
				}
			}
		}()
	}
}

// Wait blocks until every worker has exited.
func (e *Enricher) Wait() {
	e.wg.Wait()
}

// Enqueue schedules an enrichment request. Duplicate requests for a MAC
// already in flight are dropped, as are requests when the queue is full.
func (e *Enricher) Enqueue(req Request) {
	mac := domain.NormalizeMAC(req.MAC)
	if mac == "" {
		return
	}
	req.MAC = mac

	e.mu.Lock()
	if e.inflight[mac] {
		e.mu.Unlock()
		return
	}
	e.inflight[mac] = true
	e.mu.Unlock()

	select {
	case e.queue <- req:
	default:
		e.mu.Lock()
		delete(e.inflight, mac)
		e.mu.Unlock()
		e.log.Warn().Str("mac", mac).Msg("enrichment queue full, dropping request")
	}
}

func (e *Enricher) process(ctx context.Context, req Request) {
	defer func() {
		e.mu.Lock()
		delete(e.inflight, req.MAC)
		e.mu.Unlock()
	}()

	vendor, err := e.LookupVendor(ctx, req.MAC)
	if err != nil {
		e.log.Warn().Err(err).Str("mac", req.MAC).Msg("vendor lookup failed")
		return
	}
	if vendor == "" {
		return
	}
	if err := e.updater.ApplyEnrichment(ctx, req.DeviceID, vendor); err != nil {
		e.log.Warn().Err(err).Str("device_id", req.DeviceID).Msg("apply enrichment failed")
		return
	}
	e.log.Info().Str("device_id", req.DeviceID).Str("vendor", vendor).Msg("device enriched")
}

// LookupVendor resolves a vendor name for a MAC, trying each tier in
// order. An empty result with nil error means every tier came up empty.
func (e *Enricher) LookupVendor(ctx context.Context, mac string) (string, error) {
	oui := domain.OUI(mac)
	if oui == "" {
		return "", fmt.Errorf("lookup vendor: invalid mac %q", mac)
	}

	if v, ok := commonOUIs[oui]; ok {
		return v, nil
	}

	if v, err := e.store.GetVendorByOUI(ctx, strings.ToUpper(oui)); err == nil && v != "" {
		return v, nil
	}

	v, err := e.fetchMacVendors(ctx, mac)
	if err != nil || v == "" {
		v, err = e.fetchMacLookup(ctx, mac)
	}
	if err != nil {
		return "", err
	}
	if v != "" {
		if err := e.store.UpsertVendor(ctx, strings.ToUpper(oui), v); err != nil {
			e.log.Warn().Err(err).Str("oui", oui).Msg("vendor cache write failed")
		}
	}
	return v, nil
}

// fetchMacVendors queries api.macvendors.com, which answers with the
// vendor name as plain text and 404 for unknown prefixes.
func (e *Enricher) fetchMacVendors(ctx context.Context, mac string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, macVendorsURL+mac, nil)
	if err != nil {
		return "", fmt.Errorf("build macvendors request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query macvendors: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query macvendors: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read macvendors response: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// fetchMacLookup queries api.maclookup.app as a fallback; it answers
// JSON with the company name in the "company" field.
func (e *Enricher) fetchMacLookup(ctx context.Context, mac string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, macLookupURL+mac, nil)
	if err != nil {
		return "", fmt.Errorf("build maclookup request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query maclookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query maclookup: status %d", resp.StatusCode)
	}
	var payload struct {
		Found   bool   `json:"found"`
		Company string `json:"company"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 65536)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode maclookup response: %w", err)
	}
	if !payload.Found {
		return "", nil
	}
	return strings.TrimSpace(payload.Company), nil
}
