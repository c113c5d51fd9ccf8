package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"motopay/internal/models"
)

type VehicleAPI interface {
	Lookup(ctx context.Context, q models.VehicleLookup) (models.Vehicle, error)
	Get(ctx context.Context, id string) (models.Vehicle, error)
	Register(ctx context.Context, req models.RegisterVehicleRequest, actor models.Actor) (models.Vehicle, error)
	Update(ctx context.Context, id string, req models.UpdateVehicleRequest, actor models.Actor) (models.Vehicle, error)
	History(ctx context.Context, id string, page, limit int, actor models.Actor) (models.VehicleHistory, error)
}

type VehicleComplianceAPI interface {
	Summary(ctx context.Context, vehicleID string) (models.ComplianceSummary, error)
	Recommendations(ctx context.Context, vehicleID string) ([]models.Recommendation, error)
}

type VehicleHandler struct {
	Service    VehicleAPI
	Compliance VehicleComplianceAPI
	Logger     *slog.Logger
}

func (h *VehicleHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var q models.VehicleLookup
	if err := decodeJSON(w, r, &q); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	v, err := h.Service.Lookup(r.Context(), q)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VehicleHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterVehicleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	v, err := h.Service.Register(r.Context(), req, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *VehicleHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VehicleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateVehicleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	v, err := h.Service.Update(r.Context(), pathParam(r, "id"), req, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VehicleHandler) History(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	hist, err := h.Service.History(r.Context(), pathParam(r, "id"), page, limit, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *VehicleHandler) Compliance(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Compliance.Summary(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *VehicleHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Compliance.Recommendations(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicle_id": pathParam(r, "id"), "recommendations": recs})
}
