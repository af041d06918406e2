package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/booklend/lending-engine/internal/domain"
	"github.com/booklend/lending-engine/internal/service"
	"github.com/booklend/lending-engine/pkg/response"
)

type BorrowingHandler struct {
	service   *service.LifecycleService
	validator *validator.Validate
}

func NewBorrowingHandler(service *service.LifecycleService) *BorrowingHandler {
	return &BorrowingHandler{
		service:   service,
		validator: validator.New(),
	}
}

// CreateBorrowing handles POST /borrowings
func (h *BorrowingHandler) CreateBorrowing(w http.ResponseWriter, r *http.Request) {
	var request domain.CreateBorrowingRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return
	}

	borrowing, err := h.service.Borrow(r.Context(), actorFrom(r), &request)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Created(w, borrowing)
}

// ListBorrowings handles GET /borrowings
func (h *BorrowingHandler) ListBorrowings(w http.ResponseWriter, r *http.Request) {
	filter, err := parseBorrowingFilter(r)
	if err != nil {
		response.BadRequest(w, "Invalid filter", err)
		return
	}

	borrowings, err := h.service.ListBorrowings(r.Context(), actorFrom(r), filter)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, borrowings)
}

// GetBorrowing handles GET /borrowings/{borrowingId}
func (h *BorrowingHandler) GetBorrowing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["borrowingId"])
	if err != nil {
		response.BadRequest(w, "Invalid borrowing id", err)
		return
	}

	borrowing, err := h.service.GetBorrowing(r.Context(), actorFrom(r), id)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, borrowing)
}

// ReturnBorrowing handles POST /borrowings/{borrowingId}/return
func (h *BorrowingHandler) ReturnBorrowing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["borrowingId"])
	if err != nil {
		response.BadRequest(w, "Invalid borrowing id", err)
		return
	}

	result, err := h.service.Return(r.Context(), actorFrom(r), id)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, result)
}

func parseBorrowingFilter(r *http.Request) (domain.BorrowingFilter, error) {
	var filter domain.BorrowingFilter

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return filter, err
		}
		filter.UserID = &userID
	}

	if raw := r.URL.Query().Get("is_active"); raw != "" {
		var active bool
		switch strings.ToLower(raw) {
		case "1", "true":
			active = true
		case "0", "false":
			active = false
		default:
			return filter, errInvalidIsActive
		}
		filter.Active = &active
	}

	return filter, nil
}

var errInvalidIsActive = errors.New("is_active must be 1 or 0 / true or false")
