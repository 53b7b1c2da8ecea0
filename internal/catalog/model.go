package catalog

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/minio/sha256-simd"
)

type (
	Artist struct {
		ID             uuid.UUID `db:"id"`
		Name           string    `db:"name"`
		NameNormalized string    `db:"name_normalized"`
		ArtworkKey     *string   `db:"artwork_key"`
		CreatedAt      time.Time `db:"created_at"`
	}

	Album struct {
		ID              uuid.UUID `db:"id"`
		ArtistID        uuid.UUID `db:"artist_id"`
		Title           string    `db:"title"`
		TitleNormalized string    `db:"title_normalized"`
		ArtworkKey      *string   `db:"artwork_key"`
		CreatedAt       time.Time `db:"created_at"`
	}

	Track struct {
		ID          uuid.UUID `db:"id"`
		NaturalKey  string    `db:"natural_key"`
		Title       string    `db:"title"`
		ArtistID    uuid.UUID `db:"artist_id"`
		AlbumID     uuid.UUID `db:"album_id"`
		TrackNumber *int      `db:"track_number"`
		DiscNumber  *int      `db:"disc_number"`
		Year        *int      `db:"year"`
		DurationMs  int64     `db:"duration_ms"`
		Bitrate     int       `db:"bitrate"`
		Private     bool      `db:"private"`
		OwnerID     uuid.UUID `db:"owner_id"`
		CreatedAt   time.Time `db:"created_at"`
	}

	Genre struct {
		ID    int    `db:"id"`
		Label string `db:"label"`
	}

	// StreamableAsset is the playable form of a Track: the object key of the
	// earliest READY audio media object linked to it. The size is the validated
	// size of that object.
	StreamableAsset struct {
		TrackID       uuid.UUID `db:"track_id"`
		MediaObjectID uuid.UUID `db:"media_object_id"`
		ObjectKey     string    `db:"object_key"`
		Size          int64     `db:"size"`
		MimeType      *string   `db:"mime_type"`
	}

	// TrackAccess holds the fields of a Track needed to make entitlement decisions
	TrackAccess struct {
		TrackID uuid.UUID `db:"id"`
		Private bool      `db:"private"`
		OwnerID uuid.UUID `db:"owner_id"`
	}

	// Ownership describes who a Track belongs to. Private tracks are catalogued
	// separately for each owner, so a private upload never resolves to a track
	// owned by someone else, and never to a public track.
	Ownership struct {
		OwnerID uuid.UUID
		Private bool
	}
)

// Normalize prepares a name for case-insensitive matching: surrounding whitespace
// is trimmed, internal runs of whitespace are collapsed, and the result is lower-cased.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NaturalKey derives the stable identity of a track from its metadata. An
// external identifier is authoritative when present; otherwise the key is a digest
// of the normalized artist, album and title, and the duration rounded to seconds.
func NaturalKey(meta *extract.Metadata) string {
	if ext := Normalize(meta.ExternalID); ext != "" {
		return "ext:" + ext
	}

	seconds := int64(meta.Duration.Round(time.Second) / time.Second)
	tuple := fmt.Sprintf("%s\x1f%s\x1f%s\x1f%d", Normalize(meta.Artist), Normalize(meta.Album), Normalize(meta.Title), seconds)
	digest := sha256.Sum256([]byte(tuple))

	return "nk:" + hex.EncodeToString(digest[:])
}

// TrackKey returns the key a track with the given metadata is catalogued under for
// this owner. Public tracks share the natural key, private tracks are scoped to
// their owner.
func (owner Ownership) TrackKey(meta *extract.Metadata) string {
	key := NaturalKey(meta)
	if !owner.Private {
		return key
	}

	return "owner:" + owner.OwnerID.String() + ":" + key
}

func optionalInt(v int) *int {
	if v <= 0 {
		return nil
	}

	return &v
}
