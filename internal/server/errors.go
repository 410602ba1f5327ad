package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/shardview/internal/safetensors"
)

// ErrorBody is the error envelope returned by every failing route.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeRateLimited(c *echo.Context) error {
	return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many value requests")
}

// writeReaderError maps a reader error class to a status code.
func writeReaderError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, safetensors.ErrNotFound):
		return writeError(c, http.StatusNotFound, "not_found_error", err.Error())
	case errors.Is(err, safetensors.ErrDType):
		return writeError(c, http.StatusUnprocessableEntity, "dtype_error", err.Error())
	case errors.Is(err, safetensors.ErrFormat), errors.Is(err, safetensors.ErrAllocation):
		return writeError(c, http.StatusUnprocessableEntity, "tensor_error", err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "reader_error", err.Error())
	}
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{
			Message: msg,
			Type:    errType,
		},
	})
}

func newRequestID() string {
	return "req_" + uuid.NewString()
}
