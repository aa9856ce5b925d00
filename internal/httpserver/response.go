package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_service/internal/apperr"
)

// Envelope is the shape of every response body.
type Envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Data    any                 `json:"data,omitempty"`
	Errors  []apperr.FieldError `json:"errors,omitempty"`
}

func respond(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// bind decodes the request and runs struct validation. Decode failures are
// reported as validation errors so the envelope stays uniform.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid request body", err)
	}
	return c.Validate(dst)
}
