package medias

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/api/gen"
	"github.com/hbomb79/Cadence/internal/api/util"
	"github.com/hbomb79/Cadence/internal/identity"
	"github.com/hbomb79/Cadence/internal/ingest"
	"github.com/labstack/echo/v4"
)

type (
	Service interface {
		GetStatus(ctx context.Context, id uuid.UUID) (*ingest.MediaObject, error)
		SignalUploaded(ctx context.Context, id uuid.UUID) (*ingest.MediaObject, error)
		TriggerIngest(ctx context.Context, id uuid.UUID) (*ingest.MediaObject, error)
		GetDerivedAssets(ctx context.Context, id uuid.UUID) ([]*ingest.DerivedAsset, error)
	}

	Controller struct {
		service Service
	}
)

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/:id", controller.get)
	eg.POST("/:id/uploaded", controller.signalUploaded)
	eg.POST("/:id/ingest", controller.triggerIngest)
	eg.GET("/:id/derived", controller.listDerived)
}

func (controller *Controller) get(ec echo.Context) error {
	obj, err := controller.authorizedObject(ec)
	if err != nil {
		return err
	}

	return ec.JSON(http.StatusOK, NewDto(obj))
}

func (controller *Controller) listDerived(ec echo.Context) error {
	obj, err := controller.authorizedObject(ec)
	if err != nil {
		return err
	}

	assets, err := controller.service.GetDerivedAssets(ec.Request().Context(), obj.ID)
	if err != nil {
		return IngestError(err)
	}

	return ec.JSON(http.StatusOK, util.ApplyConversion(assets, NewDerivedAssetDto))
}

// signalUploaded is called by clients once they have finished uploading the content
// of a media object, and moves the object to UPLOADED if the content is present.
func (controller *Controller) signalUploaded(ec echo.Context) error {
	obj, err := controller.authorizedObject(ec)
	if err != nil {
		return err
	}

	obj, err = controller.service.SignalUploaded(ec.Request().Context(), obj.ID)
	if err != nil {
		return IngestError(err)
	}

	return ec.JSON(http.StatusOK, NewDto(obj))
}

// triggerIngest drives the media object as far through ingestion as it can go. Terminal
// failures are not reported as an error response; the returned object will be FAILED
// and carry the reason.
func (controller *Controller) triggerIngest(ec echo.Context) error {
	obj, err := controller.authorizedObject(ec)
	if err != nil {
		return err
	}

	obj, err = controller.service.TriggerIngest(ec.Request().Context(), obj.ID)
	if err != nil {
		return IngestError(err)
	}

	return ec.JSON(http.StatusOK, NewDto(obj))
}

// authorizedObject fetches the media object identified by the 'id' path param,
// ensuring the principal is allowed to see it. Objects belonging to other users are
// reported as not found.
func (controller *Controller) authorizedObject(ec echo.Context) (*ingest.MediaObject, error) {
	principal, err := identity.PrincipalFromContext(ec)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized)
	}

	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Media object ID is not a valid UUID")
	}

	obj, err := controller.service.GetStatus(ec.Request().Context(), id)
	if err != nil {
		return nil, IngestError(err)
	}
	if obj.OwnerID != principal.UserID && !principal.IsAdmin() {
		return nil, gen.ErrAPINotFound
	}

	return obj, nil
}

// IngestError converts an error returned by the ingest service in to the response
// the client should receive. Retryable troubles use their kind as the error code,
// except reconciliation conflicts which are reported as transient store errors.
func IngestError(err error) error {
	var trouble *ingest.Trouble
	switch {
	case errors.Is(err, ingest.ErrMediaObjectNotFound):
		return gen.ErrAPINotFound
	case errors.As(err, &trouble):
		apiErr := gen.APIError{Code: string(trouble.Kind()), Message: trouble.Error()}
		switch trouble.Kind() {
		case ingest.OBJECT_NOT_YET_PRESENT:
			apiErr.Status = http.StatusConflict
		case ingest.TRANSIENT_STORE_ERROR:
			apiErr.Status = http.StatusServiceUnavailable
		case ingest.RECONCILIATION_CONFLICT:
			// Conflicts are an internal concern; to the caller this is just
			// a transient failure to be retried
			apiErr = gen.APIError{
				Status:          http.StatusServiceUnavailable,
				Code:            string(ingest.TRANSIENT_STORE_ERROR),
				Message:         "Catalog is busy, please retry",
				InternalMessage: trouble.Error(),
			}
		default:
			apiErr.Status = http.StatusUnprocessableEntity
		}
		return apiErr
	case errors.Is(err, ingest.ErrTransitionRejected):
		return gen.APIError{Status: http.StatusConflict, Code: "TRANSITION_CONFLICT", Message: "Media object was modified concurrently, please retry"}
	case errors.Is(err, ingest.ErrServiceStopped), errors.Is(err, context.DeadlineExceeded):
		return gen.APIError{Status: http.StatusServiceUnavailable, Code: "UNAVAILABLE"}
	}

	return gen.NewInternalError(err)
}
