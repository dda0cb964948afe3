package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/samcharles93/kindle/internal/inference"
	"github.com/samcharles93/kindle/internal/model"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrModelNotFound  = errors.New("model not found")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps a generation error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), inference.IsRequestError(err):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, ErrModelNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 499, "request_cancelled"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

// paramOf names the request field an error is about, when that is known.
func paramOf(err error) string {
	switch {
	case errors.Is(err, inference.ErrContextOverflow):
		return "max_tokens"
	case errors.Is(err, model.ErrTokenOutOfRange):
		return "tokens"
	default:
		return ""
	}
}
