package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/database"
	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/hbomb79/Cadence/pkg/logger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const defaultReconcileAttempts = 5

var (
	log = logger.Get("CatalogStore")

	ErrTrackNotFound = errors.New("track does not exist")
	ErrAssetNotReady = errors.New("track has no streamable asset")

	// ErrReconcileExhausted is returned when reconciliation continued to conflict
	// with concurrent transactions after all retry attempts. The enclosing
	// transaction should be retried as a whole.
	ErrReconcileExhausted = errors.New("reconciliation conflicted on every attempt")
)

type Store struct {
	maxAttempts int
}

func NewStore() *Store {
	return &Store{maxAttempts: defaultReconcileAttempts}
}

// Reconcile upserts the Artist, Album and Track rows described by the metadata, and
// links the media object to the resulting Track. All writes are performed on the
// provided transaction, so nothing is left behind if the caller aborts.
//
// Reconcile is idempotent: repeated calls with the same metadata and ownership
// resolve to the same Track. Concurrent calls which collide on a natural key are serialized by
// the unique constraints on the catalog tables. Should an attempt still fail due to a
// conflict (e.g. a deadlock), the work is rolled back to a savepoint and retried.
func (store *Store) Reconcile(ctx context.Context, tx *sqlx.Tx, meta *extract.Metadata, mediaObjectID uuid.UUID, owner Ownership) (uuid.UUID, error) {
	for attempt := 1; ; attempt++ {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT reconcile`); err != nil {
			return uuid.Nil, fmt.Errorf("failed to create reconcile savepoint: %w", err)
		}

		trackID, err := store.reconcile(ctx, tx, meta, mediaObjectID, owner)
		if err == nil {
			if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT reconcile`); err != nil {
				return uuid.Nil, fmt.Errorf("failed to release reconcile savepoint: %w", err)
			}

			return trackID, nil
		}

		if !database.IsRetryableConflict(err) {
			return uuid.Nil, err
		}
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT reconcile`); rbErr != nil {
			return uuid.Nil, fmt.Errorf("failed to rollback reconcile savepoint: %w (original error: %w)", rbErr, err)
		}
		if attempt >= store.maxAttempts {
			return uuid.Nil, fmt.Errorf("%w: %w", ErrReconcileExhausted, err)
		}

		log.Warnf("Reconciliation of media object %s conflicted (attempt %d/%d): %v\n", mediaObjectID, attempt, store.maxAttempts, err)
	}
}

func (store *Store) reconcile(ctx context.Context, tx *sqlx.Tx, meta *extract.Metadata, mediaObjectID uuid.UUID, owner Ownership) (uuid.UUID, error) {
	artist, err := store.upsertArtist(ctx, tx, meta.Artist)
	if err != nil {
		return uuid.Nil, err
	}

	albumArtist := artist
	if meta.AlbumArtist != "" && Normalize(meta.AlbumArtist) != artist.NameNormalized {
		if albumArtist, err = store.upsertArtist(ctx, tx, meta.AlbumArtist); err != nil {
			return uuid.Nil, err
		}
	}

	album, err := store.upsertAlbum(ctx, tx, albumArtist.ID, meta.Album)
	if err != nil {
		return uuid.Nil, err
	}

	track := &Track{
		ID:          uuid.New(),
		NaturalKey:  owner.TrackKey(meta),
		Title:       meta.Title,
		ArtistID:    artist.ID,
		AlbumID:     album.ID,
		TrackNumber: optionalInt(meta.TrackNumber),
		DiscNumber:  optionalInt(meta.DiscNumber),
		Year:        optionalInt(meta.Year),
		DurationMs:  meta.Duration.Milliseconds(),
		Bitrate:     meta.Bitrate,
		Private:     owner.Private,
		OwnerID:     owner.OwnerID,
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO tracks(id, natural_key, title, artist_id, album_id, track_number, disc_number, year, duration_ms, bitrate, private, owner_id)
		VALUES (:id, :natural_key, :title, :artist_id, :album_id, :track_number, :disc_number, :year, :duration_ms, :bitrate, :private, :owner_id)
		ON CONFLICT(natural_key) DO NOTHING`, track); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert track: %w", err)
	}

	var trackID uuid.UUID
	if err := tx.GetContext(ctx, &trackID, `SELECT id FROM tracks WHERE natural_key=$1`, track.NaturalKey); err != nil {
		return uuid.Nil, fmt.Errorf("failed to select track with natural key %s: %w", track.NaturalKey, err)
	}

	genres, err := store.saveGenres(ctx, tx, meta.Genres)
	if err != nil {
		return uuid.Nil, err
	}
	if err := store.saveTrackGenreAssociations(ctx, tx, trackID, genres); err != nil {
		return uuid.Nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE media_objects SET track_id=$1 WHERE id=$2`, trackID, mediaObjectID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to link media object to track: %w", err)
	}

	if trackID == track.ID {
		log.Emit(logger.NEW, "Catalogued track %s (%s)\n", trackID, track.NaturalKey)
	} else {
		log.Debugf("Media object %s resolved to existing track %s\n", mediaObjectID, trackID)
	}

	return trackID, nil
}

// upsertArtist finds the artist with a matching normalized name, creating one if none exists.
func (store *Store) upsertArtist(ctx context.Context, tx *sqlx.Tx, name string) (*Artist, error) {
	normalized := Normalize(name)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artists(id, name, name_normalized) VALUES ($1, $2, $3)
		ON CONFLICT(name_normalized) DO NOTHING`, uuid.New(), name, normalized); err != nil {
		return nil, fmt.Errorf("failed to insert artist: %w", err)
	}

	var artist Artist
	if err := tx.GetContext(ctx, &artist, `SELECT * FROM artists WHERE name_normalized=$1`, normalized); err != nil {
		return nil, fmt.Errorf("failed to select artist %q: %w", normalized, err)
	}

	return &artist, nil
}

// upsertAlbum finds the album with a matching normalized title for the given artist,
// creating one if none exists.
func (store *Store) upsertAlbum(ctx context.Context, tx *sqlx.Tx, artistID uuid.UUID, title string) (*Album, error) {
	normalized := Normalize(title)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO albums(id, artist_id, title, title_normalized) VALUES ($1, $2, $3, $4)
		ON CONFLICT(artist_id, title_normalized) DO NOTHING`, uuid.New(), artistID, title, normalized); err != nil {
		return nil, fmt.Errorf("failed to insert album: %w", err)
	}

	var album Album
	if err := tx.GetContext(ctx, &album, `SELECT * FROM albums WHERE artist_id=$1 AND title_normalized=$2`, artistID, normalized); err != nil {
		return nil, fmt.Errorf("failed to select album %q: %w", normalized, err)
	}

	return &album, nil
}

// saveGenres saves the given genre labels, ignoring any which already exist, and
// returns all of the genres referenced by the labels provided.
func (store *Store) saveGenres(ctx context.Context, tx *sqlx.Tx, labels []string) ([]*Genre, error) {
	if len(labels) == 0 {
		return []*Genre{}, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO genres(label) SELECT UNNEST($1::text[])
		ON CONFLICT(label) DO NOTHING`, pq.Array(labels)); err != nil {
		return nil, fmt.Errorf("failed to insert bulk genres: %w", err)
	}

	var results []*Genre
	if err := tx.SelectContext(ctx, &results, `SELECT * FROM genres WHERE label = ANY($1::text[])`, pq.Array(labels)); err != nil {
		return nil, fmt.Errorf("failed to select saved genres: %w", err)
	}

	return results, nil
}

func (store *Store) saveTrackGenreAssociations(ctx context.Context, tx *sqlx.Tx, trackID uuid.UUID, genres []*Genre) error {
	if len(genres) == 0 {
		return nil
	}

	type genreAssoc struct {
		ID      uuid.UUID `db:"id"`
		TrackID uuid.UUID `db:"track_id"`
		GenreID int       `db:"genre_id"`
	}
	assocs := make([]genreAssoc, len(genres))
	for k, v := range genres {
		assocs[k] = genreAssoc{uuid.New(), trackID, v.ID}
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO track_genres(id, track_id, genre_id)
		VALUES(:id, :track_id, :genre_id)
		ON CONFLICT(track_id, genre_id) DO NOTHING`, assocs); err != nil {
		return fmt.Errorf("failed to save genre associations for track %s: %w", trackID, err)
	}

	return nil
}

// AttachArtwork sets the artwork of the album, and of the album's artist, to the
// object key provided unless they already have artwork. Returns true if the
// album artwork was attached.
func (store *Store) AttachArtwork(ctx context.Context, db database.Queryable, albumID uuid.UUID, objectKey string) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE albums SET artwork_key=$2 WHERE id=$1 AND artwork_key IS NULL`, albumID, objectKey)
	if err != nil {
		return false, fmt.Errorf("failed to attach artwork to album %s: %w", albumID, err)
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE artists SET artwork_key=$2
		WHERE artwork_key IS NULL AND id=(SELECT artist_id FROM albums WHERE id=$1)`, albumID, objectKey); err != nil {
		return false, fmt.Errorf("failed to attach artwork to artist of album %s: %w", albumID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// GetAlbumForTrack returns the album the given track belongs to
func (store *Store) GetAlbumForTrack(ctx context.Context, db database.Queryable, trackID uuid.UUID) (*Album, error) {
	query, args, err := squirrel.
		Select("albums.*").
		From("albums").
		InnerJoin("tracks ON tracks.album_id = albums.id").
		Where("tracks.id = ?", trackID).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct album query: %w", err)
	}

	var album Album
	if err := db.GetContext(ctx, &album, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrackNotFound
		}
		return nil, err
	}

	return &album, nil
}

// GetStreamableAsset returns the asset for the track which should be served to
// listeners. A track which does not exist and a track which has no READY audio
// media object are indistinguishable; both return ErrAssetNotReady.
func (store *Store) GetStreamableAsset(ctx context.Context, db database.Queryable, trackID uuid.UUID) (*StreamableAsset, error) {
	query, args, err := squirrel.
		Select("media_objects.track_id", "media_objects.id AS media_object_id", "media_objects.object_key", "media_objects.declared_size AS size", "media_objects.mime_type").
		From("media_objects").
		Where("media_objects.track_id = ?", trackID).
		Where("media_objects.kind = 'audio' AND media_objects.state = 'READY'").
		OrderBy("media_objects.transitioned_at ASC", "media_objects.id ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct streamable asset query: %w", err)
	}

	var asset StreamableAsset
	if err := db.GetContext(ctx, &asset, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssetNotReady
		}
		return nil, err
	}

	return &asset, nil
}

// GetTrackAccess returns the privacy and ownership of a track
func (store *Store) GetTrackAccess(ctx context.Context, db database.Queryable, trackID uuid.UUID) (*TrackAccess, error) {
	var access TrackAccess
	if err := db.GetContext(ctx, &access, `SELECT id, private, owner_id FROM tracks WHERE id=$1`, trackID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrackNotFound
		}
		return nil, err
	}

	return &access, nil
}
