// Package uploads exposes the signed-upload sink used by the local object store
// backend. The S3 backend issues pre-signed URLs which clients upload to directly,
// so this controller is only mounted when the local backend is in use.
package uploads

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Cadence/internal/api/gen"
	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/labstack/echo/v4"
)

type (
	Sink interface {
		AcceptUpload(ctx context.Context, key string, expires string, signature string, body io.Reader, size int64) error
	}

	Controller struct {
		sink Sink
	}
)

func New(validate *validator.Validate, sink Sink) *Controller {
	return &Controller{sink: sink}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.PUT("/*", controller.upload)
}

// upload stores the request body at the key given by the path, provided the
// request carries a valid grant for exactly that key.
func (controller *Controller) upload(ec echo.Context) error {
	key, err := url.PathUnescape(ec.Param("*"))
	if err != nil || key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Object key is not valid")
	}

	req := ec.Request()
	if req.ContentLength < 0 {
		return echo.NewHTTPError(http.StatusLengthRequired)
	}

	err = controller.sink.AcceptUpload(req.Context(), key, ec.QueryParam("expires"), ec.QueryParam("signature"), req.Body, req.ContentLength)
	switch {
	case err == nil:
		return ec.NoContent(http.StatusNoContent)
	case errors.Is(err, objectstore.ErrGrantInvalid):
		return gen.APIError{Status: http.StatusForbidden, Code: "GRANT_INVALID", Message: "Upload grant is invalid or has expired"}
	case errors.Is(err, objectstore.ErrObjectExists):
		return gen.APIError{Status: http.StatusConflict, Code: "ALREADY_UPLOADED", Message: "Content has already been uploaded for this media object"}
	case errors.Is(err, objectstore.ErrInvalidKey):
		return echo.NewHTTPError(http.StatusBadRequest, "Object key is not valid")
	case objectstore.IsTransient(err):
		return gen.APIError{Status: http.StatusServiceUnavailable, Code: "TRANSIENT_STORE_ERROR", InternalMessage: err.Error()}
	default:
		return gen.NewInternalError(err)
	}
}
