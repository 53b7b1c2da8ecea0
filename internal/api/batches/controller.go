package batches

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/api/gen"
	"github.com/hbomb79/Cadence/internal/api/medias"
	"github.com/hbomb79/Cadence/internal/api/util"
	"github.com/hbomb79/Cadence/internal/batch"
	"github.com/hbomb79/Cadence/internal/identity"
	"github.com/hbomb79/Cadence/internal/ingest"
	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/labstack/echo/v4"
)

type (
	CreateBatchRequest struct {
		Private bool `json:"private"`
	}

	MediaSlotRequest struct {
		Kind           string `json:"kind" validate:"required,oneof=audio artwork"`
		DeclaredSize   int64  `json:"declared_size" validate:"required,gt=0"`
		DeclaredDigest string `json:"declared_digest" validate:"required"`
		Mime           string `json:"mime" validate:"required"`
	}

	BatchDto struct {
		ID        uuid.UUID     `json:"id"`
		Private   bool          `json:"private"`
		CreatedAt time.Time     `json:"created_at"`
		Status    string        `json:"status"`
		Members   []*medias.Dto `json:"members"`
	}

	MediaSlotDto struct {
		MediaObjectID uuid.UUID `json:"media_object_id"`
		UploadURL     string    `json:"upload_url"`
		UploadMethod  string    `json:"upload_method"`
		ExpiresAt     time.Time `json:"expires_at"`
	}

	Service interface {
		CreateBatch(ctx context.Context, creatorID uuid.UUID, private bool) (*batch.UploadBatch, error)
		RequestMediaSlot(ctx context.Context, principalID uuid.UUID, batchID uuid.UUID, request batch.SlotRequest) (*batch.MediaSlot, error)
		GetBatchStatus(ctx context.Context, batchID uuid.UUID) (*batch.BatchStatus, error)
	}

	Controller struct {
		validate *validator.Validate
		service  Service
	}
)

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{validate: validate, service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("", controller.create)
	eg.GET("/:id", controller.get)
	eg.POST("/:id/media", controller.requestMediaSlot)
}

func (controller *Controller) create(ec echo.Context) error {
	principal, err := identity.PrincipalFromContext(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}

	var request CreateBatchRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}

	created, err := controller.service.CreateBatch(ec.Request().Context(), principal.UserID, request.Private)
	if err != nil {
		return gen.NewInternalError(err)
	}

	return ec.JSON(http.StatusCreated, &BatchDto{
		ID:        created.ID,
		Private:   created.Private,
		CreatedAt: created.CreatedAt,
		Status:    string(batch.InProgress),
		Members:   []*medias.Dto{},
	})
}

// get returns the batch, along with its aggregated status and the status of every
// member. Batches belonging to other users are reported as not found.
func (controller *Controller) get(ec echo.Context) error {
	principal, err := identity.PrincipalFromContext(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}

	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Batch ID is not a valid UUID")
	}

	status, err := controller.service.GetBatchStatus(ec.Request().Context(), id)
	if errors.Is(err, batch.ErrBatchNotFound) {
		return gen.ErrAPINotFound
	} else if err != nil {
		return gen.NewInternalError(err)
	}
	if status.Batch.CreatorID != principal.UserID && !principal.IsAdmin() {
		return gen.ErrAPINotFound
	}

	return ec.JSON(http.StatusOK, NewDto(status))
}

func (controller *Controller) requestMediaSlot(ec echo.Context) error {
	principal, err := identity.PrincipalFromContext(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}

	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Batch ID is not a valid UUID")
	}

	var request MediaSlotRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Request body invalid: %v", err))
	}

	slot, err := controller.service.RequestMediaSlot(ec.Request().Context(), principal.UserID, id, batch.SlotRequest{
		Kind:           ingest.Kind(request.Kind),
		DeclaredSize:   request.DeclaredSize,
		DeclaredDigest: request.DeclaredDigest,
		Mime:           request.Mime,
	})
	switch {
	case err == nil:
		return ec.JSON(http.StatusCreated, &MediaSlotDto{
			MediaObjectID: slot.MediaObject.ID,
			UploadURL:     slot.UploadURL,
			UploadMethod:  slot.Method,
			ExpiresAt:     slot.ExpiresAt,
		})
	case errors.Is(err, batch.ErrInvalidSlot):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, batch.ErrBatchNotFound):
		return gen.ErrAPINotFound
	case errors.Is(err, batch.ErrNotBatchOwner):
		return gen.APIError{Status: http.StatusForbidden, Code: "NOT_BATCH_OWNER", Message: "Only the creator of a batch may add media to it"}
	case objectstore.IsTransient(err):
		return gen.APIError{Status: http.StatusServiceUnavailable, Code: "TRANSIENT_STORE_ERROR", InternalMessage: err.Error()}
	default:
		return gen.NewInternalError(err)
	}
}

func NewDto(status *batch.BatchStatus) *BatchDto {
	return &BatchDto{
		ID:        status.Batch.ID,
		Private:   status.Batch.Private,
		CreatedAt: status.Batch.CreatedAt,
		Status:    string(status.Status),
		Members:   util.ApplyConversion(status.Members, medias.NewDto),
	}
}
