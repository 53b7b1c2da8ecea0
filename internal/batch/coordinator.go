package batch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/event"
	"github.com/hbomb79/Cadence/internal/ingest"
	"github.com/hbomb79/Cadence/internal/metrics"
	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/hbomb79/Cadence/pkg/logger"
)

var (
	log = logger.Get("BatchCoord")

	ErrNotBatchOwner = errors.New("principal does not own the upload batch")
	ErrInvalidSlot   = errors.New("media slot request is invalid")
)

type (
	granter interface {
		GrantUpload(ctx context.Context, key string, hint objectstore.ContentHint) (*objectstore.UploadGrant, error)
	}

	dataStore interface {
		CreateBatch(ctx context.Context, batch *UploadBatch) error
		GetBatch(ctx context.Context, id uuid.UUID) (*UploadBatch, error)
		CreateMediaObject(ctx context.Context, obj *ingest.MediaObject) error
		ListMediaObjectsForBatch(ctx context.Context, batchID uuid.UUID) ([]*ingest.MediaObject, error)
	}

	// Coordinator manages upload batches, and the media slots within them. Each
	// slot is a media object in the UPLOADING state, along with an upload grant
	// bound to that objects key.
	Coordinator struct {
		objects   granter
		dataStore dataStore
		eventBus  event.EventDispatcher
	}
)

func New(objects granter, store dataStore, eventBus event.EventDispatcher) *Coordinator {
	return &Coordinator{objects: objects, dataStore: store, eventBus: eventBus}
}

// CreateBatch creates a new, empty, batch owned by the principal provided. Tracks
// ingested from a private batch are only streamable by the batches creator.
func (coordinator *Coordinator) CreateBatch(ctx context.Context, creatorID uuid.UUID, private bool) (*UploadBatch, error) {
	batch := &UploadBatch{ID: uuid.New(), CreatorID: creatorID, Private: private}
	if err := coordinator.dataStore.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	log.Emit(logger.NEW, "Created upload batch %s for %s\n", batch.ID, creatorID)
	metrics.BatchesCreated.Inc()
	return batch, nil
}

// RequestMediaSlot creates a media object within the batch, and returns the grant
// the client must use to upload the content of the object. Only the creator of
// the batch may request slots within it.
func (coordinator *Coordinator) RequestMediaSlot(ctx context.Context, principalID uuid.UUID, batchID uuid.UUID, request SlotRequest) (*MediaSlot, error) {
	if err := validateSlotRequest(request); err != nil {
		return nil, err
	}

	batch, err := coordinator.dataStore.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.CreatorID != principalID {
		return nil, ErrNotBatchOwner
	}

	obj := &ingest.MediaObject{
		ID:             uuid.New(),
		BatchID:        batch.ID,
		Kind:           request.Kind,
		DeclaredSize:   request.DeclaredSize,
		DeclaredDigest: objectstore.NormalizeDigest(request.DeclaredDigest),
		DeclaredMime:   request.Mime,
		State:          ingest.Uploading,
		OwnerID:        batch.CreatorID,
		Private:        batch.Private,
	}
	obj.ObjectKey = ObjectKey(batch.ID, obj.ID)

	grant, err := coordinator.objects.GrantUpload(ctx, obj.ObjectKey, contentHint(obj.Kind))
	if err != nil {
		return nil, fmt.Errorf("failed to grant upload for %s: %w", obj, err)
	}

	if err := coordinator.dataStore.CreateMediaObject(ctx, obj); err != nil {
		return nil, err
	}

	log.Emit(logger.NEW, "Granted %s upload slot %s in batch %s\n", obj.Kind, obj.ID, batch.ID)
	metrics.MediaSlotsGranted.WithLabelValues(string(obj.Kind)).Inc()
	coordinator.eventBus.Dispatch(event.BATCH_UPDATE, batch.ID)

	return &MediaSlot{MediaObject: obj, UploadURL: grant.URL, Method: grant.Method, ExpiresAt: grant.ExpiresAt}, nil
}

// GetBatchStatus returns the batch along with the current state of all of its
// members, and the status aggregated from those states.
func (coordinator *Coordinator) GetBatchStatus(ctx context.Context, batchID uuid.UUID) (*BatchStatus, error) {
	batch, err := coordinator.dataStore.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	members, err := coordinator.dataStore.ListMediaObjectsForBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of batch %s: %w", batchID, err)
	}

	states := make([]ingest.State, len(members))
	for i, member := range members {
		states[i] = member.State
	}

	return &BatchStatus{Batch: batch, Status: Aggregate(states), Members: members}, nil
}

func validateSlotRequest(request SlotRequest) error {
	if !request.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSlot, request.Kind)
	}
	if request.DeclaredSize <= 0 {
		return fmt.Errorf("%w: declared size must be positive", ErrInvalidSlot)
	}

	digest, err := hex.DecodeString(objectstore.NormalizeDigest(request.DeclaredDigest))
	if err != nil || len(digest) != 32 {
		return fmt.Errorf("%w: declared digest must be a hex encoded SHA-256 digest", ErrInvalidSlot)
	}

	return nil
}

func contentHint(kind ingest.Kind) objectstore.ContentHint {
	if kind == ingest.ArtworkKind {
		return objectstore.ArtworkContent
	}

	return objectstore.AudioContent
}
