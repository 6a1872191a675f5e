package httpapi

import (
	"net/http"

	"blueconnect-gateway/internal/state"
	"blueconnect-gateway/internal/store"
	"blueconnect-gateway/internal/utils"
)

// snapshotSource is the live-state side of the device API; the aggregator
// implements it.
type snapshotSource interface {
	Snapshot(address string) (state.Snapshot, bool)
}

type deviceController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type deviceControllerImpl struct {
	snapshots  snapshotSource
	repository store.MeasurementRepository
}

func NewDeviceController(snapshots snapshotSource, repository store.MeasurementRepository) deviceController {
	return &deviceControllerImpl{snapshots: snapshots, repository: repository}
}

func (c *deviceControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /devices", c.handleDevices)
	mux.HandleFunc("GET /devices/{address}", c.handleDevice)
	mux.HandleFunc("GET /devices/{address}/latest", c.handleLatest)
	mux.HandleFunc("GET /devices/{address}/measurements", c.handleMeasurements)
}

func (c *deviceControllerImpl) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := c.repository.GetDevices()
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if devices == nil {
		devices = []store.Device{}
	}
	utils.WriteJSON(w, http.StatusOK, devices)
}

func (c *deviceControllerImpl) handleDevice(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing device address")
		return
	}
	snap, ok := c.snapshots.Snapshot(address)
	if !ok {
		utils.WriteError(w, http.StatusNotFound, "device not yet tracked")
		return
	}
	utils.WriteJSON(w, http.StatusOK, snap)
}

func (c *deviceControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing device address")
		return
	}
	latest, err := c.repository.GetLatestMeasurements(address)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if latest == nil {
		latest = []store.Measurement{}
	}
	utils.WriteJSON(w, http.StatusOK, latest)
}

func (c *deviceControllerImpl) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing device address")
		return
	}
	field, from, to, limit, err := parseMeasurementsQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	measurements, err := c.repository.GetMeasurements(address, field, from, to, limit)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if measurements == nil {
		measurements = []store.Measurement{}
	}
	utils.WriteJSON(w, http.StatusOK, measurements)
}
