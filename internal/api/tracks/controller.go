package tracks

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/api/gen"
	"github.com/hbomb79/Cadence/internal/identity"
	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/hbomb79/Cadence/internal/stream"
	"github.com/hbomb79/Cadence/pkg/logger"
	"github.com/labstack/echo/v4"
)

var log = logger.Get("TracksController")

type (
	Service interface {
		Serve(ctx context.Context, trackID uuid.UUID, principal *identity.Principal, rangeHeader string) (*stream.Response, error)
	}

	Controller struct {
		service Service
	}
)

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/:id/stream", controller.stream)
}

// stream serves the audio for a track, honouring any Range header provided. The
// body is copied directly from the object store to the client.
func (controller *Controller) stream(ec echo.Context) error {
	principal, err := identity.PrincipalFromContext(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}

	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Track ID is not a valid UUID")
	}

	req := ec.Request()
	resp, err := controller.service.Serve(req.Context(), id, principal, req.Header.Get("Range"))
	if err != nil {
		if objectstore.IsTransient(err) {
			return gen.APIError{Status: http.StatusServiceUnavailable, Code: "TRANSIENT_STORE_ERROR", InternalMessage: err.Error()}
		}
		return gen.NewInternalError(err)
	}

	switch resp.Status {
	case http.StatusNotFound, http.StatusForbidden:
		// Range support is advertised even when no content is served
		copyHeader(ec.Response().Header(), resp.Header)
	}

	switch resp.Status {
	case http.StatusNotFound:
		return gen.APIError{Status: http.StatusNotFound, Code: "ASSET_NOT_READY", Message: "Track does not exist or is not ready for streaming"}
	case http.StatusForbidden:
		return gen.APIError{Status: http.StatusForbidden, Code: "NOT_ENTITLED", Message: "You are not entitled to stream this track"}
	}

	written, err := resp.Write(ec.Response())
	if err != nil {
		// Headers are already committed, the client will observe a short body
		log.Debugf("Streaming of track %s to %s stopped after %d bytes: %v\n", id, principal.UserID, written, err)
	}

	return nil
}

func copyHeader(dst http.Header, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
