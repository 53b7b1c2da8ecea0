package gen

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hbomb79/Cadence/pkg/logger"
	"github.com/labstack/echo/v4"
)

type APIError struct {
	// Human readable error display message
	Message string `json:"message"`

	// A machine readable and stable identifier for the error case being represented
	Code string `json:"code"`

	// Used to alter the HTTP response status in accordance with the error
	Status int `json:"-"`

	// Additional message for internal logging only. Will not be included in the message
	// sent to the user.
	InternalMessage string `json:"-"`
}

// Error satisifies the Go error interface and simply exposes the
// message contained by this APIError.
func (err APIError) Error() string {
	return fmt.Sprintf("api error: %s", err.Message)
}

var (
	ErrAPINotFound  = APIError{Status: http.StatusNotFound, Code: "NOT_FOUND"}
	ErrAPIForbidden = APIError{Status: http.StatusForbidden, Code: "FORBIDDEN"}
)

// NewInternalError returns an APIError which hides the cause of the failure from
// the client, logging it instead.
func NewInternalError(err error) APIError {
	return APIError{Status: http.StatusInternalServerError, InternalMessage: err.Error()}
}

// GetHTTPErrorHandler returns an echo HTTP error handler
// which understands how to interpret APIError. If an error is
// provided which is not recognized, it will be passed off to the
// fallback HTTP handler provided.
func GetHTTPErrorHandler(fallbackHandler echo.HTTPErrorHandler) echo.HTTPErrorHandler {
	logger := logger.Get("API")
	return func(err error, ctx echo.Context) {
		var apiErr APIError
		if ok := errors.As(err, &apiErr); ok {
			if apiErr.Status == 0 {
				apiErr.Status = http.StatusInternalServerError
			}
			if len(apiErr.Message) == 0 {
				apiErr.Message = http.StatusText(apiErr.Status)
			}
			if len(apiErr.Code) == 0 {
				apiErr.Code = http.StatusText(apiErr.Status)
			}
			if len(apiErr.InternalMessage) > 0 {
				logger.Errorf("Request failure, internal error: %s\n", apiErr.InternalMessage)
			}

			if ctx.Response().Committed {
				return
			}
			if err := ctx.JSON(apiErr.Status, apiErr); err == nil {
				return
			}
		}

		// Not an APIError (e.g. an echo.HTTPError from binding or middleware), let
		// Echo handle it as it normally would
		fallbackHandler(err, ctx)
	}
}
