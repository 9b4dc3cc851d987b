// Package httperr renders errors as FHIR OperationOutcome responses.
package httperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/ordersafety/internal/platform/fhir"
	"github.com/ehr/ordersafety/pkg/apperr"
)

// Status maps an error onto an HTTP status code.
func Status(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Outcome builds the response body for err. Internal failures never leak
// their cause.
func Outcome(err error) *fhir.OperationOutcome {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		switch {
		case he.Code == http.StatusNotFound:
			return fhir.NotFoundOutcome(msg)
		case he.Code == http.StatusForbidden || he.Code == http.StatusUnauthorized:
			return fhir.ForbiddenOutcome(msg)
		case he.Code >= http.StatusInternalServerError:
			return fhir.InternalErrorOutcome(msg)
		default:
			return fhir.ErrorOutcome(msg)
		}
	}

	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind == apperr.KindInternal {
		return fhir.InternalErrorOutcome("internal server error")
	}
	switch ae.Kind {
	case apperr.KindValidation:
		return fhir.ValidationOutcome("", ae.Message)
	case apperr.KindNotFound:
		return fhir.NotFoundOutcome(ae.Message)
	case apperr.KindConflict:
		return fhir.ConflictOutcome(ae.Message)
	default:
		return fhir.ForbiddenOutcome(ae.Message)
	}
}

// Handler is installed as echo's HTTPErrorHandler.
func Handler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := Status(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Path()).Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, Outcome(err))
	}
}
