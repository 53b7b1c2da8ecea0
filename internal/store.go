package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/batch"
	"github.com/hbomb79/Cadence/internal/catalog"
	"github.com/hbomb79/Cadence/internal/database"
	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/hbomb79/Cadence/internal/ingest"
	"github.com/jmoiron/sqlx"
)

type (
	// dataOrchestrator is responsible for managing all of Cadence's resources,
	// especially highly-relational data. You can think of all
	// the data stores below this layer being 'dumb', and this store
	// linking them together and providing the database instance
	//
	// Any operation which must touch more than one store atomically (such as
	// reconciling metadata and advancing the media object which produced it)
	// is implemented here as a single transaction.
	dataOrchestrator struct {
		db           database.Manager
		BatchStore   *batch.Store
		IngestStore  *ingest.Store
		CatalogStore *catalog.Store
	}
)

func NewDataOrchestrator(db database.Manager) *dataOrchestrator {
	return &dataOrchestrator{
		db:           db,
		BatchStore:   &batch.Store{},
		IngestStore:  &ingest.Store{},
		CatalogStore: catalog.NewStore(),
	}
}

func (orchestrator *dataOrchestrator) CreateBatch(ctx context.Context, b *batch.UploadBatch) error {
	return orchestrator.BatchStore.CreateBatch(ctx, orchestrator.db.GetSqlxDb(), b)
}

func (orchestrator *dataOrchestrator) GetBatch(ctx context.Context, id uuid.UUID) (*batch.UploadBatch, error) {
	return orchestrator.BatchStore.GetBatch(ctx, orchestrator.db.GetSqlxDb(), id)
}

func (orchestrator *dataOrchestrator) CreateMediaObject(ctx context.Context, obj *ingest.MediaObject) error {
	return orchestrator.IngestStore.CreateMediaObject(ctx, orchestrator.db.GetSqlxDb(), obj)
}

func (orchestrator *dataOrchestrator) GetMediaObject(ctx context.Context, id uuid.UUID) (*ingest.MediaObject, error) {
	return orchestrator.IngestStore.GetMediaObject(ctx, orchestrator.db.GetSqlxDb(), id)
}

func (orchestrator *dataOrchestrator) ListMediaObjectsForBatch(ctx context.Context, batchID uuid.UUID) ([]*ingest.MediaObject, error) {
	return orchestrator.IngestStore.ListMediaObjectsForBatch(ctx, orchestrator.db.GetSqlxDb(), batchID)
}

func (orchestrator *dataOrchestrator) ListStrandedMediaObjects(ctx context.Context, state ingest.State, olderThan time.Duration) ([]*ingest.MediaObject, error) {
	return orchestrator.IngestStore.ListStranded(ctx, orchestrator.db.GetSqlxDb(), state, olderThan)
}

func (orchestrator *dataOrchestrator) TransitionMediaObject(ctx context.Context, transition ingest.Transition) error {
	return orchestrator.IngestStore.Transition(ctx, orchestrator.db.GetSqlxDb(), transition)
}

func (orchestrator *dataOrchestrator) SaveDerivedAsset(ctx context.Context, asset *ingest.DerivedAsset) error {
	return orchestrator.IngestStore.SaveDerivedAsset(ctx, orchestrator.db.GetSqlxDb(), asset)
}

func (orchestrator *dataOrchestrator) ListDerivedAssets(ctx context.Context, mediaObjectID uuid.UUID) ([]*ingest.DerivedAsset, error) {
	return orchestrator.IngestStore.ListDerivedAssets(ctx, orchestrator.db.GetSqlxDb(), mediaObjectID)
}

func (orchestrator *dataOrchestrator) GetStreamableAsset(ctx context.Context, trackID uuid.UUID) (*catalog.StreamableAsset, error) {
	return orchestrator.CatalogStore.GetStreamableAsset(ctx, orchestrator.db.GetSqlxDb(), trackID)
}

func (orchestrator *dataOrchestrator) GetTrackAccess(ctx context.Context, trackID uuid.UUID) (*catalog.TrackAccess, error) {
	return orchestrator.CatalogStore.GetTrackAccess(ctx, orchestrator.db.GetSqlxDb(), trackID)
}

// IngestAudio transactionally reconciles the metadata in to the catalog, links the
// media object to the resulting track, and moves the object from VALIDATED to
// INGESTED. If artwork from the same batch has already been ingested, it is attached
// to the tracks album. Nothing is persisted if any step fails.
func (orchestrator *dataOrchestrator) IngestAudio(ctx context.Context, obj *ingest.MediaObject, meta *extract.Metadata) (uuid.UUID, error) {
	var trackID uuid.UUID
	err := orchestrator.db.WrapTx(ctx, func(tx *sqlx.Tx) error {
		if err := orchestrator.BatchStore.LockBatch(ctx, tx, obj.BatchID); err != nil {
			return err
		}

		id, err := orchestrator.CatalogStore.Reconcile(ctx, tx, meta, obj.ID, catalog.Ownership{OwnerID: obj.OwnerID, Private: obj.Private})
		if err != nil {
			return err
		}

		if err := orchestrator.IngestStore.Transition(ctx, tx, ingest.Transition{ID: obj.ID, From: ingest.Validated, To: ingest.Ingested}); err != nil {
			return err
		}

		artworkKey, err := orchestrator.IngestStore.FindIngestedArtworkKey(ctx, tx, obj.BatchID)
		if err != nil {
			return fmt.Errorf("failed to find artwork for batch %s: %w", obj.BatchID, err)
		}
		if artworkKey != nil {
			if err := orchestrator.attachTrackArtwork(ctx, tx, id, *artworkKey); err != nil {
				return err
			}
		}

		trackID = id
		return nil
	})

	return trackID, err
}

// IngestArtwork transactionally attaches the artwork to the albums of any audio already
// ingested from the same batch, and moves the object from VALIDATED to INGESTED.
func (orchestrator *dataOrchestrator) IngestArtwork(ctx context.Context, obj *ingest.MediaObject) error {
	return orchestrator.db.WrapTx(ctx, func(tx *sqlx.Tx) error {
		if err := orchestrator.BatchStore.LockBatch(ctx, tx, obj.BatchID); err != nil {
			return err
		}

		albumIDs, err := orchestrator.IngestStore.FindIngestedAudioAlbums(ctx, tx, obj.BatchID)
		if err != nil {
			return fmt.Errorf("failed to find albums for batch %s: %w", obj.BatchID, err)
		}
		for _, albumID := range albumIDs {
			if _, err := orchestrator.CatalogStore.AttachArtwork(ctx, tx, albumID, obj.ObjectKey); err != nil {
				return err
			}
		}

		return orchestrator.IngestStore.Transition(ctx, tx, ingest.Transition{ID: obj.ID, From: ingest.Validated, To: ingest.Ingested})
	})
}

// AttachTrackArtwork attaches the artwork to the album of the track, unless the
// album already has artwork.
func (orchestrator *dataOrchestrator) AttachTrackArtwork(ctx context.Context, trackID uuid.UUID, objectKey string) error {
	return orchestrator.attachTrackArtwork(ctx, orchestrator.db.GetSqlxDb(), trackID, objectKey)
}

func (orchestrator *dataOrchestrator) attachTrackArtwork(ctx context.Context, db database.Queryable, trackID uuid.UUID, objectKey string) error {
	album, err := orchestrator.CatalogStore.GetAlbumForTrack(ctx, db, trackID)
	if err != nil {
		return fmt.Errorf("failed to find album for track %s: %w", trackID, err)
	}

	_, err = orchestrator.CatalogStore.AttachArtwork(ctx, db, album.ID, objectKey)
	return err
}
