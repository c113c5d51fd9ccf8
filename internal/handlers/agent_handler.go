package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"motopay/internal/models"
)

type AgentAPI interface {
	Commissions(ctx context.Context, actor models.Actor, page, limit int) (models.CommissionPage, error)
	Transactions(ctx context.Context, actor models.Actor, page, limit int) (models.TransactionPage, error)
	Summary(ctx context.Context, actor models.Actor) (models.AgentSummary, error)
	PayCommission(ctx context.Context, actor models.Actor, id string) (models.AgentCommission, error)
}

type AgentHandler struct {
	Service AgentAPI
	Logger  *slog.Logger
}

func (h *AgentHandler) Commissions(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	res, err := h.Service.Commissions(r.Context(), ActorFrom(r.Context()), page, limit)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AgentHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	res, err := h.Service.Transactions(r.Context(), ActorFrom(r.Context()), page, limit)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AgentHandler) Summary(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Summary(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AgentHandler) PayCommission(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.PayCommission(r.Context(), ActorFrom(r.Context()), pathParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
