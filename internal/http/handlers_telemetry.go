package httpx

import (
	"net/http"

	"github.com/edgeplane/dispatchd/internal/domain/model"
	"github.com/edgeplane/dispatchd/internal/service"
)

const defaultResourceLimit = 500

// TelemetryHandlers provides HTTP handlers for telemetry ingest and resource
// inspection.
type TelemetryHandlers struct {
	Svc *service.TelemetryService
}

// IngestPoint handles single telemetry point ingest.
func (h *TelemetryHandlers) IngestPoint(w http.ResponseWriter, r *http.Request) {
	var point model.TelemetryPoint
	if !DecodeJSON(w, r, &point) {
		return
	}

	stored, err := h.Svc.Ingest(r.Context(), &point)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, stored)
}

// IngestBatch handles batch telemetry ingest.
func (h *TelemetryHandlers) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var batch model.TelemetryBatch
	if !DecodeJSON(w, r, &batch) {
		return
	}

	stored, err := h.Svc.IngestBatch(r.Context(), &batch)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"points": stored, "count": len(stored)})
}

// ListResources handles the latest-snapshot-per-resource view routing runs
// against.
func (h *TelemetryHandlers) ListResources(w http.ResponseWriter, r *http.Request) {
	limit, _ := ParseLimitOffset(r, defaultResourceLimit, maxListLimit)
	snapshots, err := h.Svc.ListResources(r.Context(), limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"resources": snapshots})
}

// GetResource handles fetching the latest telemetry point of one resource.
func (h *TelemetryHandlers) GetResource(w http.ResponseWriter, r *http.Request) {
	point, err := h.Svc.LatestByResource(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, point)
}
