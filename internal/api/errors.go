package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// Error codes returned in ErrorResponse.Error.
const (
	codeInvalidJSON   = "invalid_json"
	codeEmptyQuestion = "empty_question"
	codeEmptyText     = "empty_text"
	codeUnauthorized  = "unauthorized"
)

const maxBodyBytes = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

func writeError(c *echo.Context, status int, msg string) error {
	return c.JSON(status, ErrorResponse{OK: false, Error: msg})
}

// decodeJSON reads one JSON value. An empty body decodes to the zero value.
func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	b, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return out, err
	}
	if len(b) > maxBodyBytes {
		return out, errBodyTooLarge
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}

func statusFor(err error) int {
	if errors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
