package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/rl1809/storefront/internal/core/domain"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	ProductID string `json:"productId,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrAnnouncementNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrDuplicateAccount),
		errors.Is(err, domain.ErrCheckoutInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDependency):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Message: err.Error()}

	var validation *domain.ValidationError
	var stock *domain.InsufficientStockError
	switch {
	case errors.As(err, &validation):
		resp.Field = validation.Field
	case errors.As(err, &stock):
		resp.ProductID = stock.ProductID
		resp.Requested = stock.Requested
		available := stock.Available
		resp.Available = &available
	}

	switch status {
	case http.StatusInternalServerError:
		log.Printf("http: internal error: %v", err)
		resp.Message = "internal error"
	case http.StatusServiceUnavailable:
		log.Printf("http: dependency failure: %v", err)
		resp.Message = "service temporarily unavailable"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
