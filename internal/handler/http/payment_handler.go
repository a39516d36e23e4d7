package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/payment"
)

type NotificationHandler interface {
	Handle(ctx context.Context, n payment.Notification) (payment.Result, error)
}

type WebhookResponse struct {
	Result payment.Result `json:"result"`
	Error  string         `json:"error,omitempty"`
}

type PaymentHandler struct {
	reconciler NotificationHandler
	secret     []byte
}

func NewPaymentHandler(reconciler NotificationHandler, webhookSecret string) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler, secret: []byte(webhookSecret)}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/webhook", h.handleWebhook)
}

// handleWebhook answers 200 for every notification the gateway should not
// resend, including rejected ones, and 503 for those it should.
func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := payment.VerifySignature(h.secret, body, r.Header.Get(payment.SignatureHeader)); err != nil {
		log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Webhook signature rejected")
		respondWithServiceError(w, err, "Failed to verify signature")
		return
	}

	var n payment.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	result, err := h.reconciler.Handle(r.Context(), n)
	if err != nil {
		if result == payment.ResultRejected {
			respondWithJSON(w, http.StatusOK, WebhookResponse{Result: result, Error: clientMessage(err)})
			return
		}
		if errors.Is(err, order.ErrConflictingUpdate) {
			log.Warn().Err(err).Str("event_id", n.EventID).Msg("Webhook notification lost repeated order conflicts")
			respondWithError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			return
		}
		respondWithServiceError(w, err, "Failed to handle payment notification")
		return
	}
	respondWithJSON(w, http.StatusOK, WebhookResponse{Result: result})
}
