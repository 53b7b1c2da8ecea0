package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/database/dbtest"
	"github.com/hbomb79/Cadence/internal/ingest"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertBatch(t *testing.T, db *sqlx.DB, private bool) (uuid.UUID, uuid.UUID) {
	id, owner := uuid.New(), uuid.New()
	_, err := db.Exec(`INSERT INTO upload_batches(id, creator_id, private) VALUES ($1, $2, $3)`, id, owner, private)
	require.NoError(t, err)

	return id, owner
}

func createObject(t *testing.T, db *sqlx.DB, store *ingest.Store, batchID uuid.UUID, kind ingest.Kind) *ingest.MediaObject {
	obj := newMediaObject(kind, flacContent())
	obj.BatchID = batchID
	require.NoError(t, store.CreateMediaObject(context.Background(), db, obj))

	return obj
}

func Test_Store_CreateAndGet(t *testing.T) {
	db := dbtest.Provision(t)
	store := &ingest.Store{}
	batchID, owner := insertBatch(t, db, true)
	obj := createObject(t, db, store, batchID, ingest.AudioKind)

	found, err := store.GetMediaObject(context.Background(), db, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, obj.ObjectKey, found.ObjectKey)
	assert.Equal(t, ingest.Uploading, found.State)
	assert.Equal(t, owner, found.OwnerID)
	assert.True(t, found.Private)
	assert.Nil(t, found.MimeType)

	_, err = store.GetMediaObject(context.Background(), db, uuid.New())
	assert.ErrorIs(t, err, ingest.ErrMediaObjectNotFound)
}

func Test_Store_TransitionIsCompareAndSwap(t *testing.T) {
	db := dbtest.Provision(t)
	store := &ingest.Store{}
	batchID, _ := insertBatch(t, db, false)
	obj := createObject(t, db, store, batchID, ingest.AudioKind)
	ctx := context.Background()

	require.NoError(t, store.Transition(ctx, db, ingest.Transition{ID: obj.ID, From: ingest.Uploading, To: ingest.Uploaded}))

	// The object is no longer UPLOADING, so repeating the transition matches no row
	err := store.Transition(ctx, db, ingest.Transition{ID: obj.ID, From: ingest.Uploading, To: ingest.Uploaded})
	assert.ErrorIs(t, err, ingest.ErrTransitionRejected)

	// Skipping a step is refused by the transition table
	err = store.Transition(ctx, db, ingest.Transition{ID: obj.ID, From: ingest.Uploaded, To: ingest.Ready})
	assert.ErrorIs(t, err, ingest.ErrTransitionRejected)

	mime := "audio/flac"
	require.NoError(t, store.Transition(ctx, db, ingest.Transition{ID: obj.ID, From: ingest.Uploaded, To: ingest.Validated, MimeType: &mime}))

	found, err := store.GetMediaObject(ctx, db, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.Validated, found.State)
	assert.Equal(t, &mime, found.MimeType)
	assert.True(t, found.TransitionedAt.After(found.CreatedAt) || found.TransitionedAt.Equal(found.CreatedAt))
}

func Test_Store_ListStranded(t *testing.T) {
	db := dbtest.Provision(t)
	store := &ingest.Store{}
	batchID, _ := insertBatch(t, db, false)
	stale := createObject(t, db, store, batchID, ingest.AudioKind)
	fresh := createObject(t, db, store, batchID, ingest.AudioKind)
	_, err := db.Exec(`UPDATE media_objects SET state='INGESTED', transitioned_at=$2 WHERE id=$1`, stale.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE media_objects SET state='INGESTED' WHERE id=$1`, fresh.ID)
	require.NoError(t, err)

	stranded, err := store.ListStranded(context.Background(), db, ingest.Ingested, time.Minute)
	require.NoError(t, err)
	require.Len(t, stranded, 1)
	assert.Equal(t, stale.ID, stranded[0].ID)
}

func Test_Store_ListForBatch(t *testing.T) {
	db := dbtest.Provision(t)
	store := &ingest.Store{}
	batchID, _ := insertBatch(t, db, false)
	otherBatchID, _ := insertBatch(t, db, false)
	createObject(t, db, store, batchID, ingest.AudioKind)
	createObject(t, db, store, batchID, ingest.ArtworkKind)
	createObject(t, db, store, otherBatchID, ingest.AudioKind)

	objects, err := store.ListMediaObjectsForBatch(context.Background(), db, batchID)
	require.NoError(t, err)
	assert.Len(t, objects, 2)
	for _, obj := range objects {
		assert.Equal(t, batchID, obj.BatchID)
	}
}

func Test_Store_FindIngestedArtworkKey(t *testing.T) {
	db := dbtest.Provision(t)
	store := &ingest.Store{}
	batchID, _ := insertBatch(t, db, false)
	artwork := createObject(t, db, store, batchID, ingest.ArtworkKind)

	key, err := store.FindIngestedArtworkKey(context.Background(), db, batchID)
	require.NoError(t, err)
	assert.Nil(t, key)

	_, err = db.Exec(`UPDATE media_objects SET state='READY' WHERE id=$1`, artwork.ID)
	require.NoError(t, err)

	key, err = store.FindIngestedArtworkKey(context.Background(), db, batchID)
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, artwork.ObjectKey, *key)
}

func Test_Store_SaveDerivedAssetReplacesExisting(t *testing.T) {
	db := dbtest.Provision(t)
	store := &ingest.Store{}
	batchID, _ := insertBatch(t, db, false)
	obj := createObject(t, db, store, batchID, ingest.ArtworkKind)
	ctx := context.Background()

	require.NoError(t, store.SaveDerivedAsset(ctx, db, &ingest.DerivedAsset{ID: uuid.New(), MediaObjectID: obj.ID, Kind: ingest.ThumbnailAsset, ObjectKey: "first"}))
	require.NoError(t, store.SaveDerivedAsset(ctx, db, &ingest.DerivedAsset{ID: uuid.New(), MediaObjectID: obj.ID, Kind: ingest.ThumbnailAsset, ObjectKey: "second"}))

	assets, err := store.ListDerivedAssets(ctx, db, obj.ID)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "second", assets[0].ObjectKey)
}
