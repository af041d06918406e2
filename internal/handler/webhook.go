package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/booklend/lending-engine/internal/service"
	apperrors "github.com/booklend/lending-engine/pkg/errors"
	"github.com/booklend/lending-engine/pkg/response"
)

const maxWebhookBodyBytes = 64 * 1024

type WebhookHandler struct {
	service *service.WebhookService
	logger  *slog.Logger
}

func NewWebhookHandler(service *service.WebhookService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, logger: logger}
}

// StripeWebhook handles POST /webhooks/stripe.
// Everything except a signature failure is acknowledged so the processor
// stops redelivering; database outages return 500 to request a redelivery,
// which the reconciler absorbs idempotently.
func (h *WebhookHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		response.BadRequest(w, "Could not read webhook payload", err)
		return
	}

	err = h.service.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch apperrors.CodeOf(err) {
	case "":
		response.Success(w, map[string]string{"received": "true"})
	case apperrors.ErrCodeUnauthorized:
		response.BadRequest(w, "Webhook signature verification failed", err)
	case apperrors.ErrCodeNotFound:
		h.logger.Warn("webhook for unknown session acknowledged", "error", err)
		response.Success(w, map[string]string{"received": "true"})
	default:
		response.InternalServerError(w, "Webhook processing failed", err)
	}
}
