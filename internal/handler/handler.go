// Package handler exposes the inventory and scan queue over HTTP. The
// API is JSON end to end; scan execution always goes through the queue,
// never inline in a request.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"lanwatch/internal/domain"
	"lanwatch/internal/repository"
	"lanwatch/internal/scheduler"
)

// DeviceService is the registry surface the API uses.
type DeviceService interface {
	Device(ctx context.Context, id string) (*domain.Device, error)
	Devices(ctx context.Context) ([]*domain.Device, error)
	Ports(ctx context.Context, deviceID string) ([]domain.Port, error)
	History(ctx context.Context, deviceID string, limit int) ([]domain.StatusEvent, error)
	ApplyPatch(ctx context.Context, deviceID string, patch domain.DevicePatch) (*domain.Device, error)
	ApplyDeepScan(ctx context.Context, deviceID string, findings []domain.PortFinding) error
}

// ScanService is the scheduler surface the API uses.
type ScanService interface {
	Enqueue(ctx context.Context, target string, scanType domain.ScanType) (*domain.ScanJob, error)
	Scans(ctx context.Context, limit int) ([]*domain.ScanJob, error)
	Scan(ctx context.Context, id string) (*domain.ScanJob, error)
	Results(ctx context.Context, scanID string) ([]*domain.ScanResult, error)
	CreateSchedule(ctx context.Context, name, target string, scanType domain.ScanType, intervalSeconds int) (*domain.Schedule, error)
	Schedules(ctx context.Context) ([]*domain.Schedule, error)
}

// DeepProber runs a full port probe against one host.
type DeepProber interface {
	DeepScan(ctx context.Context, ip string) []domain.PortFinding
}

// Handler serves the JSON API.
type Handler struct {
	devices DeviceService
	scans   ScanService
	prober  DeepProber
	log     zerolog.Logger
}

// New builds a Handler.
func New(devices DeviceService, scans ScanService, prober DeepProber, log zerolog.Logger) *Handler {
	return &Handler{
		devices: devices,
		scans:   scans,
		prober:  prober,
		log:     log.With().Str("component", "handler").Logger(),
	}
}

// Routes assembles the full middleware-wrapped API handler.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/devices", h.listDevices)
	mux.HandleFunc("GET /api/devices/{id}", h.getDevice)
	mux.HandleFunc("PATCH /api/devices/{id}", h.patchDevice)
	mux.HandleFunc("GET /api/devices/{id}/ports", h.listDevicePorts)
	mux.HandleFunc("GET /api/devices/{id}/history", h.listDeviceHistory)
	mux.HandleFunc("POST /api/devices/{id}/deep-scan", h.deepScanDevice)

	mux.HandleFunc("GET /api/scans", h.listScans)
	mux.HandleFunc("POST /api/scans", h.createScan)
	mux.HandleFunc("GET /api/scans/{id}", h.getScan)
	mux.HandleFunc("GET /api/scans/{id}/results", h.listScanResults)

	mux.HandleFunc("GET /api/schedules", h.listSchedules)
	mux.HandleFunc("POST /api/schedules", h.createSchedule)

	return Chain(mux, Recover(h.log), CORS, RequestLogger(h.log))
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.Devices(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if devices == nil {
		devices = []*domain.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.devices.Device(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (h *Handler) patchDevice(w http.ResponseWriter, r *http.Request) {
	var patch domain.DevicePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	dev, err := h.devices.ApplyPatch(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (h *Handler) listDevicePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := h.devices.Ports(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if ports == nil {
		ports = []domain.Port{}
	}
	writeJSON(w, http.StatusOK, ports)
}

func (h *Handler) listDeviceHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	events, err := h.devices.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if events == nil {
		events = []domain.StatusEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// deepScanDevice kicks off a full port probe in the background and
// answers immediately; results land on the device as they arrive.
func (h *Handler) deepScanDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dev, err := h.devices.Device(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		findings := h.prober.DeepScan(ctx, dev.IP)
		if err := h.devices.ApplyDeepScan(ctx, id, findings); err != nil {
			h.log.Error().Err(err).Str("device_id", id).Msg("deep scan apply failed")
			return
		}
		h.log.Info().Str("device_id", id).Int("open_ports", len(findings)).Msg("deep scan complete")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning", "device_id": id})
}

type createScanRequest struct {
	Target string `json:"target"`
	Type   string `json:"scan_type"`
}

func (h *Handler) createScan(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	scanType := domain.ScanType(req.Type)
	if scanType == "" {
		scanType = domain.ScanTypeARP
	}
	switch scanType {
	case domain.ScanTypeARP, domain.ScanTypePing, domain.ScanTypeTCPSYN, domain.ScanTypeDiscovery:
	default:
		http.Error(w, "unsupported scan_type", http.StatusBadRequest)
		return
	}

	job, err := h.scans.Enqueue(r.Context(), req.Target, scanType)
	if err != nil {
		if errors.Is(err, scheduler.ErrScanActive) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) listScans(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.scans.Scans(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		h.fail(w, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.ScanJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) getScan(w http.ResponseWriter, r *http.Request) {
	job, err := h.scans.Scan(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) listScanResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.scans.Results(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if results == nil {
		results = []*domain.ScanResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

type createScheduleRequest struct {
	Name            string `json:"name"`
	Target          string `json:"target"`
	Type            string `json:"scan_type"`
	IntervalSeconds int    `json:"interval_seconds"`
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	scanType := domain.ScanType(req.Type)
	if scanType == "" {
		scanType = domain.ScanTypeARP
	}
	sched, err := h.scans.CreateSchedule(r.Context(), req.Name, req.Target, scanType, req.IntervalSeconds)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.scans.Schedules(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if schedules == nil {
		schedules = []*domain.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.log.Error().Err(err).Msg("request failed")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
