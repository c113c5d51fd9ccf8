package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"motopay/internal/models"
)

type DeviceStore interface {
	Register(ctx context.Context, userID, token string, now time.Time) error
	Delete(ctx context.Context, userID, token string) error
}

// DeviceHandler registers the FCM tokens push notifications are sent to.
type DeviceHandler struct {
	Store  DeviceStore
	Logger *slog.Logger
}

type deviceRequest struct {
	Token string `json:"token"`
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	if actor.UserID == "" {
		writeError(w, h.Logger, r, models.ErrUnauthorized)
		return
	}
	var req deviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, h.Logger, r, fmt.Errorf("%w: token is required", models.ErrInvalidRequest))
		return
	}
	if err := h.Store.Register(r.Context(), actor.UserID, req.Token, time.Now().UTC()); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": req.Token})
}

func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	if actor.UserID == "" {
		writeError(w, h.Logger, r, models.ErrUnauthorized)
		return
	}
	if err := h.Store.Delete(r.Context(), actor.UserID, pathParam(r, "token")); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
