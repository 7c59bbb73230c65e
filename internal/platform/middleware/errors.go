package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vaxportal/vaxportal/pkg/apperrors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func statusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return apperrors.HTTPStatus(err)
}

// ErrorHandler is installed as echo's HTTPErrorHandler. Business-rule errors
// are returned with their message and code; anything unexpected is logged
// with its cause and answered with a generic 500.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := statusOf(err)
		body := ErrorBody{Message: "internal server error"}

		var he *echo.HTTPError
		switch {
		case apperrors.IsExpected(err):
			ae := apperrors.As(err)
			body = ErrorBody{Message: ae.Message, Code: ae.Code}
		case errors.As(err, &he):
			if he.Internal != nil {
				rid, _ := c.Get("request_id").(string)
				logger.Error().Err(he.Internal).Str("request_id", rid).Int("status", he.Code).Msg("request failed")
			}
			if he.Code < 500 || he.Internal == nil {
				body.Message = messageOf(he)
			}
		default:
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Msg("unexpected error")
			status = http.StatusInternalServerError
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

func messageOf(he *echo.HTTPError) string {
	if s, ok := he.Message.(string); ok {
		return s
	}
	return http.StatusText(he.Code)
}
