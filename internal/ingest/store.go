package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/database"
)

var (
	ErrMediaObjectNotFound = errors.New("media object does not exist")

	// ErrTransitionRejected is returned when a state transition could not be applied,
	// either because the transition table does not allow it, or because the object
	// was no longer in the expected state (i.e. another actor transitioned it first).
	ErrTransitionRejected = errors.New("media object state transition rejected")
)

type (
	// Store is the persistence layer for media objects and their derived assets
	Store struct{}

	// Transition describes a compare-and-swap of a media objects state. The
	// sniffed MIME type, sealed object key and failure cause, when provided, are
	// recorded in the same statement.
	Transition struct {
		ID        uuid.UUID
		From      State
		To        State
		MimeType  *string
		ObjectKey *string
		Trouble   *Trouble
	}
)

func selectMediaObjectBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("media_objects.*", "upload_batches.creator_id", "upload_batches.private").
		From("media_objects").
		InnerJoin("upload_batches ON upload_batches.id = media_objects.batch_id")
}

func (store *Store) CreateMediaObject(ctx context.Context, db database.Queryable, obj *MediaObject) error {
	if _, err := db.NamedExecContext(ctx, `
		INSERT INTO media_objects(id, batch_id, kind, object_key, declared_size, declared_digest, declared_mime, state)
		VALUES (:id, :batch_id, :kind, :object_key, :declared_size, :declared_digest, :declared_mime, :state)`, obj); err != nil {
		return fmt.Errorf("failed to insert media object: %w", err)
	}

	return nil
}

func (store *Store) GetMediaObject(ctx context.Context, db database.Queryable, id uuid.UUID) (*MediaObject, error) {
	query, args, err := selectMediaObjectBuilder().Where("media_objects.id = ?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select media object query: %w", err)
	}

	var obj MediaObject
	if err := db.GetContext(ctx, &obj, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMediaObjectNotFound
		}
		return nil, err
	}

	return &obj, nil
}

func (store *Store) ListMediaObjectsForBatch(ctx context.Context, db database.Queryable, batchID uuid.UUID) ([]*MediaObject, error) {
	query, args, err := selectMediaObjectBuilder().
		Where("media_objects.batch_id = ?", batchID).
		OrderBy("media_objects.created_at", "media_objects.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list media objects query: %w", err)
	}

	var results []*MediaObject
	if err := db.SelectContext(ctx, &results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	return results, nil
}

// ListStranded returns all media objects which have been in the given state
// for longer than the duration provided.
func (store *Store) ListStranded(ctx context.Context, db database.Queryable, state State, olderThan time.Duration) ([]*MediaObject, error) {
	query, args, err := selectMediaObjectBuilder().
		Where("media_objects.state = ?", state).
		Where("media_objects.transitioned_at < ?", time.Now().Add(-olderThan)).
		OrderBy("media_objects.transitioned_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct stranded media objects query: %w", err)
	}

	var results []*MediaObject
	if err := db.SelectContext(ctx, &results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	return results, nil
}

// Transition applies the state transition as a compare-and-swap; the update only
// matches if the object is still in the 'From' state. ErrTransitionRejected is
// returned if the transition is not legal, or if no row was updated.
func (store *Store) Transition(ctx context.Context, db database.Queryable, transition Transition) error {
	if !transition.From.CanTransitionTo(transition.To) {
		return fmt.Errorf("%w: %s -> %s is not a legal transition", ErrTransitionRejected, transition.From, transition.To)
	}

	builder := squirrel.Update("media_objects").
		Set("state", transition.To).
		Set("transitioned_at", squirrel.Expr("current_timestamp")).
		Where("id = ?", transition.ID).
		Where("state = ?", transition.From)
	if transition.MimeType != nil {
		builder = builder.Set("mime_type", *transition.MimeType)
	}
	if transition.ObjectKey != nil {
		builder = builder.Set("object_key", *transition.ObjectKey)
	}
	if transition.Trouble != nil {
		builder = builder.
			Set("error_kind", string(transition.Trouble.Kind())).
			Set("error_message", transition.Trouble.Unwrap().Error())
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to construct transition query: %w", err)
	}

	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to transition media object %s to %s: %w", transition.ID, transition.To, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: media object %s is no longer %s", ErrTransitionRejected, transition.ID, transition.From)
	}

	return nil
}

// FindIngestedArtworkKey returns the key of the earliest ingested artwork object in
// the batch, or nil if there is none.
func (store *Store) FindIngestedArtworkKey(ctx context.Context, db database.Queryable, batchID uuid.UUID) (*string, error) {
	var key string
	err := db.GetContext(ctx, &key, `
		SELECT object_key FROM media_objects
		WHERE batch_id=$1 AND kind='artwork' AND state IN ('INGESTED', 'READY')
		ORDER BY transitioned_at, id
		LIMIT 1`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return &key, nil
}

// FindIngestedAudioAlbums returns the albums of all tracks ingested from audio objects
// in the batch.
func (store *Store) FindIngestedAudioAlbums(ctx context.Context, db database.Queryable, batchID uuid.UUID) ([]uuid.UUID, error) {
	var albumIDs []uuid.UUID
	if err := db.SelectContext(ctx, &albumIDs, `
		SELECT DISTINCT tracks.album_id FROM media_objects
		INNER JOIN tracks ON tracks.id = media_objects.track_id
		WHERE media_objects.batch_id=$1 AND media_objects.kind='audio' AND media_objects.state IN ('INGESTED', 'READY')`, batchID); err != nil {
		return nil, err
	}

	return albumIDs, nil
}

// SaveDerivedAsset records an asset derived from a media object. Saving an asset of
// the same kind for the same media object replaces the previous record.
func (store *Store) SaveDerivedAsset(ctx context.Context, db database.Queryable, asset *DerivedAsset) error {
	if _, err := db.NamedExecContext(ctx, `
		INSERT INTO derived_assets(id, media_object_id, kind, object_key)
		VALUES (:id, :media_object_id, :kind, :object_key)
		ON CONFLICT(media_object_id, kind) DO UPDATE SET object_key=EXCLUDED.object_key, created_at=current_timestamp`, asset); err != nil {
		return fmt.Errorf("failed to save derived asset: %w", err)
	}

	return nil
}

func (store *Store) ListDerivedAssets(ctx context.Context, db database.Queryable, mediaObjectID uuid.UUID) ([]*DerivedAsset, error) {
	var results []*DerivedAsset
	if err := db.SelectContext(ctx, &results, `SELECT * FROM derived_assets WHERE media_object_id=$1 ORDER BY kind`, mediaObjectID); err != nil {
		return nil, err
	}

	return results, nil
}
