package medias

import (
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/ingest"
)

type (
	// Dto is the response used by endpoints that return the status of a media object
	Dto struct {
		ID             uuid.UUID  `json:"id"`
		BatchID        uuid.UUID  `json:"batch_id"`
		Kind           string     `json:"kind"`
		State          string     `json:"state"`
		DeclaredSize   int64      `json:"declared_size"`
		DeclaredMime   string     `json:"declared_mime"`
		MimeType       *string    `json:"mime_type,omitempty"`
		TrackID        *uuid.UUID `json:"track_id,omitempty"`
		Error          *ErrorDto  `json:"error,omitempty"`
		CreatedAt      time.Time  `json:"created_at"`
		TransitionedAt time.Time  `json:"transitioned_at"`
	}

	ErrorDto struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
)

func NewDto(obj *ingest.MediaObject) *Dto {
	var errDto *ErrorDto
	if obj.ErrorKind != nil {
		errDto = &ErrorDto{Kind: *obj.ErrorKind}
		if obj.ErrorMessage != nil {
			errDto.Message = *obj.ErrorMessage
		}
	}

	return &Dto{
		ID:             obj.ID,
		BatchID:        obj.BatchID,
		Kind:           string(obj.Kind),
		State:          string(obj.State),
		DeclaredSize:   obj.DeclaredSize,
		DeclaredMime:   obj.DeclaredMime,
		MimeType:       obj.MimeType,
		TrackID:        obj.TrackID,
		Error:          errDto,
		CreatedAt:      obj.CreatedAt,
		TransitionedAt: obj.TransitionedAt,
	}
}

type DerivedAssetDto struct {
	Kind      string    `json:"kind"`
	ObjectKey string    `json:"object_key"`
	CreatedAt time.Time `json:"created_at"`
}

func NewDerivedAssetDto(asset *ingest.DerivedAsset) *DerivedAssetDto {
	return &DerivedAssetDto{Kind: asset.Kind, ObjectKey: asset.ObjectKey, CreatedAt: asset.CreatedAt}
}
