package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/roomsync/internal/account"
	"github.com/npezzotti/roomsync/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int, msg string) *ApiError {
	if msg == "" {
		msg = lower(http.StatusText(code))
	}
	return &ApiError{StatusCode: code, Message: msg}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, "")
}

// NewValidationError reports an invalid field inline.
func NewValidationError(msg string) *ApiError {
	return newApiError(http.StatusBadRequest, msg)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, "")
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError, "")
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, "")
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden, "")
}

func NewConflictError(msg string) *ApiError {
	return newApiError(http.StatusConflict, msg)
}

func NewMethodNotAllowedError() *ApiError {
	return newApiError(http.StatusMethodNotAllowed, "")
}

// fromError maps domain errors to the message shown to the user. Anything
// unrecognized is an internal error.
func fromError(err error) *ApiError {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, account.ErrUsernameRequired),
		errors.Is(err, account.ErrPasswordRequired),
		errors.Is(err, server.ErrRoomNameRequired):
		return NewValidationError(err.Error())
	case errors.Is(err, account.ErrUsernameExists),
		errors.Is(err, account.ErrEmailInUse),
		errors.Is(err, account.ErrAlreadyVerified):
		return NewConflictError(err.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		return newApiError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, account.ErrUnverified):
		return newApiError(http.StatusForbidden, err.Error())
	case errors.Is(err, account.ErrInvalidToken):
		return newApiError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, account.ErrVerificationNotSent):
		return newApiError(http.StatusBadGateway, account.ErrVerificationNotSent.Error())
	case errors.Is(err, server.ErrNoRoom),
		errors.Is(err, sql.ErrNoRows):
		return NewNotFoundError()
	case errors.Is(err, server.ErrNotRoomOwner):
		return newApiError(http.StatusForbidden, err.Error())
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return NewValidationError(validationMessage(verrs[0]))
	}

	return NewInternalServerError(err)
}

func validationMessage(fe validator.FieldError) string {
	field := lower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return field + " is invalid"
	}
}
