package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_service/internal/apperr"
	"github.com/Skotchmaster/auth_service/internal/logging"
)

func StatusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders any handler error as an envelope. Outside development
// internal failures carry only a generic message.
func ErrorHandler(development bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		l := logging.FromContext(c.Request().Context())

		status, body := render(err, development)
		if status >= http.StatusInternalServerError {
			l.Error("unhandled_error", "status", status, "error", err)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			l.Error("error_response_failed", slog.Any("error", werr))
		}
	}
}

func render(err error, development bool) (int, Envelope) {
	var ae *apperr.Error
	var he *echo.HTTPError
	switch {
	case errors.As(err, &ae):
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			msg = m
		}
		return he.Code, Envelope{Message: msg}
	default:
		ae = apperr.Internal(err)
	}

	status := StatusOf(ae.Kind)
	body := Envelope{Message: ae.Message, Errors: ae.Fields}
	if body.Message == "" {
		body.Message = http.StatusText(status)
	}
	if ae.Kind == apperr.KindInternal {
		body.Message = "internal server error"
		if development && ae.Err != nil {
			body.Message = fmt.Sprintf("internal server error: %v", ae.Err)
		}
	}
	return status, body
}
