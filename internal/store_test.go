package internal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/batch"
	"github.com/hbomb79/Cadence/internal/database"
	"github.com/hbomb79/Cadence/internal/database/dbtest"
	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/hbomb79/Cadence/internal/ingest"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// provisionedManager adapts a test database to the database.Manager interface
type provisionedManager struct {
	db *sqlx.DB
}

func (m *provisionedManager) Connect(database.DatabaseConfig) error { return nil }
func (m *provisionedManager) GetSqlxDb() *sqlx.DB                  { return m.db }
func (m *provisionedManager) WrapTx(ctx context.Context, f func(*sqlx.Tx) error) error {
	return database.WrapTx(ctx, m.db, f)
}

func newTestOrchestrator(t *testing.T) *dataOrchestrator {
	return NewDataOrchestrator(&provisionedManager{db: dbtest.Provision(t)})
}

func createValidated(t *testing.T, orchestrator *dataOrchestrator, batchID uuid.UUID, kind ingest.Kind) *ingest.MediaObject {
	ctx := context.Background()
	obj := &ingest.MediaObject{
		ID:             uuid.New(),
		BatchID:        batchID,
		Kind:           kind,
		DeclaredSize:   10,
		DeclaredDigest: "digest",
		DeclaredMime:   "application/octet-stream",
		State:          ingest.Validated,
	}
	obj.ObjectKey = batch.ObjectKey(batchID, obj.ID)
	require.NoError(t, orchestrator.CreateMediaObject(ctx, obj))

	created, err := orchestrator.GetMediaObject(ctx, obj.ID)
	require.NoError(t, err)
	return created
}

func testMetadata(title string) *extract.Metadata {
	return &extract.Metadata{
		Format:   extract.FLAC,
		Title:    title,
		Artist:   "Artist",
		Album:    "Album",
		Duration: 3 * time.Minute,
		Bitrate:  900,
	}
}

func Test_Orchestrator_ArtworkIngestedBeforeAudio(t *testing.T) {
	ctx := context.Background()
	orchestrator := newTestOrchestrator(t)

	owner := uuid.New()
	b := &batch.UploadBatch{ID: uuid.New(), CreatorID: owner, Private: true}
	require.NoError(t, orchestrator.CreateBatch(ctx, b))

	artwork := createValidated(t, orchestrator, b.ID, ingest.ArtworkKind)
	audio := createValidated(t, orchestrator, b.ID, ingest.AudioKind)

	require.NoError(t, orchestrator.IngestArtwork(ctx, artwork))
	trackID, err := orchestrator.IngestAudio(ctx, audio, testMetadata("Song"))
	require.NoError(t, err)

	album, err := orchestrator.CatalogStore.GetAlbumForTrack(ctx, orchestrator.db.GetSqlxDb(), trackID)
	require.NoError(t, err)
	require.NotNil(t, album.ArtworkKey)
	assert.Equal(t, artwork.ObjectKey, *album.ArtworkKey)

	access, err := orchestrator.GetTrackAccess(ctx, trackID)
	require.NoError(t, err)
	assert.True(t, access.Private)
	assert.Equal(t, owner, access.OwnerID)

	for _, id := range []uuid.UUID{artwork.ID, audio.ID} {
		obj, err := orchestrator.GetMediaObject(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ingest.Ingested, obj.State)
	}
}

func Test_Orchestrator_AudioIngestedBeforeArtwork(t *testing.T) {
	ctx := context.Background()
	orchestrator := newTestOrchestrator(t)

	b := &batch.UploadBatch{ID: uuid.New(), CreatorID: uuid.New()}
	require.NoError(t, orchestrator.CreateBatch(ctx, b))

	audio := createValidated(t, orchestrator, b.ID, ingest.AudioKind)
	artwork := createValidated(t, orchestrator, b.ID, ingest.ArtworkKind)

	trackID, err := orchestrator.IngestAudio(ctx, audio, testMetadata("Song"))
	require.NoError(t, err)

	album, err := orchestrator.CatalogStore.GetAlbumForTrack(ctx, orchestrator.db.GetSqlxDb(), trackID)
	require.NoError(t, err)
	assert.Nil(t, album.ArtworkKey)

	require.NoError(t, orchestrator.IngestArtwork(ctx, artwork))

	album, err = orchestrator.CatalogStore.GetAlbumForTrack(ctx, orchestrator.db.GetSqlxDb(), trackID)
	require.NoError(t, err)
	require.NotNil(t, album.ArtworkKey)
	assert.Equal(t, artwork.ObjectKey, *album.ArtworkKey)
}

func Test_Orchestrator_IngestAudioIsAtomic(t *testing.T) {
	ctx := context.Background()
	orchestrator := newTestOrchestrator(t)

	b := &batch.UploadBatch{ID: uuid.New(), CreatorID: uuid.New()}
	require.NoError(t, orchestrator.CreateBatch(ctx, b))
	audio := createValidated(t, orchestrator, b.ID, ingest.AudioKind)

	// Simulate a concurrent caller having already advanced the object
	require.NoError(t, orchestrator.TransitionMediaObject(ctx, ingest.Transition{ID: audio.ID, From: ingest.Validated, To: ingest.Failed}))

	_, err := orchestrator.IngestAudio(ctx, audio, testMetadata("Rolled Back"))
	assert.ErrorIs(t, err, ingest.ErrTransitionRejected)

	obj, err := orchestrator.GetMediaObject(ctx, audio.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.Failed, obj.State)
	assert.Nil(t, obj.TrackID, "track link must be rolled back with the failed transition")

	var tracks int
	require.NoError(t, orchestrator.db.GetSqlxDb().GetContext(ctx, &tracks, `SELECT count(*) FROM tracks`))
	assert.Zero(t, tracks)
}

func Test_Orchestrator_IngestForUnknownBatch(t *testing.T) {
	orchestrator := newTestOrchestrator(t)

	obj := &ingest.MediaObject{ID: uuid.New(), BatchID: uuid.New(), Kind: ingest.ArtworkKind, State: ingest.Validated}
	assert.ErrorIs(t, orchestrator.IngestArtwork(context.Background(), obj), batch.ErrBatchNotFound)
}
