package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"motopay/internal/models"
	"motopay/internal/pay"
)

type PaymentAPI interface {
	InitializePayment(ctx context.Context, req models.InitializePaymentRequest, actor models.Actor) (models.InitializePaymentResult, error)
	VerifyPayment(ctx context.Context, reference string) (models.VerifyResult, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (*models.VerifyResult, error)
	GetTransaction(ctx context.Context, id string, actor models.Actor) (models.Transaction, error)
	ProcessRefund(ctx context.Context, id string, req models.RefundRequest) (models.Transaction, error)
}

// StatusStream upgrades a client to live status updates for one reference.
type StatusStream interface {
	Serve(w http.ResponseWriter, r *http.Request, reference string)
}

type PaymentHandler struct {
	Service PaymentAPI
	Stream  StatusStream
	Logger  *slog.Logger
}

func (h *PaymentHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req models.InitializePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	res, err := h.Service.InitializePayment(r.Context(), req, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.VerifyPayment(r.Context(), pathParam(r, "reference"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Webhook must see the body exactly as sent; the signature covers the raw
// bytes. Outcomes that redelivery cannot change are acknowledged with 200 so
// the gateway stops retrying; transient failures answer 503.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	res, err := h.Service.HandleWebhook(r.Context(), body, r.Header.Get(pay.SignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, models.ErrPaymentVerificationFailed),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrInvalidState):
		if h.Logger != nil {
			h.Logger.Info("webhook acknowledged with terminal outcome", "code", models.KindOf(err), "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "code": models.KindOf(err)})
		return
	case models.Retryable(err):
		writeErrorStatus(w, h.Logger, r, http.StatusServiceUnavailable, err)
		return
	default:
		writeError(w, h.Logger, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.Service.GetTransaction(r.Context(), pathParam(r, "id"), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req models.RefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	txn, err := h.Service.ProcessRefund(r.Context(), pathParam(r, "id"), req)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *PaymentHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h.Stream == nil {
		http.Error(w, "live updates not configured", http.StatusNotFound)
		return
	}
	h.Stream.Serve(w, r, pathParam(r, "reference"))
}
