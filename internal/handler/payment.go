package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/booklend/lending-engine/internal/domain"
	"github.com/booklend/lending-engine/internal/service"
	"github.com/booklend/lending-engine/pkg/response"
)

type PaymentHandler struct {
	service *service.LifecycleService
}

func NewPaymentHandler(service *service.LifecycleService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// ListPayments handles GET /payments
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	var filter domain.PaymentFilter

	if raw := r.URL.Query().Get("borrowing_id"); raw != "" {
		borrowingID, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "Invalid borrowing id", err)
			return
		}
		filter.BorrowingID = &borrowingID
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		filter.Status = &raw
	}

	payments, err := h.service.ListPayments(r.Context(), actorFrom(r), filter)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, payments)
}

// GetPayment handles GET /payments/{paymentId}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["paymentId"])
	if err != nil {
		response.BadRequest(w, "Invalid payment id", err)
		return
	}

	payment, err := h.service.GetPayment(r.Context(), actorFrom(r), id)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, payment)
}

// RenewPayment handles POST /payments/{paymentId}/renew
func (h *PaymentHandler) RenewPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["paymentId"])
	if err != nil {
		response.BadRequest(w, "Invalid payment id", err)
		return
	}

	payment, err := h.service.Renew(r.Context(), actorFrom(r), id)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, payment)
}

// PaymentSuccess handles GET /payments/success?session_id=
func (h *PaymentHandler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		response.BadRequest(w, "session_id is required", nil)
		return
	}

	payment, err := h.service.ResolvePaymentBySession(r.Context(), sessionID)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"detail":  "Book returned successfully, payment received.",
		"payment": payment,
	})
}

// PaymentCancel handles GET /payments/cancel?session_id=
func (h *PaymentHandler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		response.BadRequest(w, "session_id is required", nil)
		return
	}

	payment, err := h.service.ResolvePaymentBySession(r.Context(), sessionID)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"detail":  "Payment cancelled. The session can be renewed for 24 hours.",
		"payment": payment,
	})
}
