package rpc

import (
	"errors"
	"net/http"

	"pelago/native/custody"
	"pelago/native/lending"
)

const (
	codeInvalidInput        = "invalid_input"
	codeNotFound            = "not_found"
	codeConflict            = "conflict"
	codeUndercollateralized = "undercollateralized"
	codeServerError         = "server_error"
)

// APIError is the structured failure returned to callers. The solvency
// rejection keeps its own code so clients can present it as a business
// rule outcome rather than a fault.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string { return e.Message }

func wrapError(err error) *APIError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lending.ErrInconsistentInput),
		errors.Is(err, lending.ErrZeroAmount),
		errors.Is(err, lending.ErrInvalidLLTV):
		return &APIError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidInput, Message: err.Error()}
	case errors.Is(err, lending.ErrMarketNotFound):
		return &APIError{HTTPStatus: http.StatusNotFound, Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, lending.ErrUndercollateralized):
		return &APIError{HTTPStatus: http.StatusUnprocessableEntity, Code: codeUndercollateralized, Message: err.Error()}
	case errors.Is(err, lending.ErrMarketExists),
		errors.Is(err, lending.ErrInsufficientSupply),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrNoDebtToRepay),
		errors.Is(err, custody.ErrInsufficientFunds):
		return &APIError{HTTPStatus: http.StatusConflict, Code: codeConflict, Message: err.Error()}
	default:
		return &APIError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
}
