package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"motopay/internal/models"
)

type ComplianceAPI interface {
	ListItems(ctx context.Context, category string) ([]models.ComplianceItem, error)
	GetItem(ctx context.Context, id string) (models.ComplianceItem, error)
	UpdatePrice(ctx context.Context, id string, req models.UpdatePriceRequest, actor models.Actor) (models.ComplianceItem, error)
	PriceHistory(ctx context.Context, id string, actor models.Actor) ([]models.PriceChange, error)
	EvaluateRequirements(ctx context.Context, vehicleID string) (models.RequirementReport, error)
}

type ComplianceHandler struct {
	Service ComplianceAPI
	Logger  *slog.Logger
}

func (h *ComplianceHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.ListItems(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ComplianceHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Service.GetItem(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *ComplianceHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req models.UpdatePriceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	item, err := h.Service.UpdatePrice(r.Context(), pathParam(r, "id"), req, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *ComplianceHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.Service.PriceHistory(r.Context(), pathParam(r, "id"), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *ComplianceHandler) Requirements(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.EvaluateRequirements(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
