package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// State is the lifecycle state of a MediaObject. Objects only ever move forward
	// through the states, as described by the transition table.
	State string

	Kind string

	MediaObject struct {
		ID             uuid.UUID  `db:"id"`
		BatchID        uuid.UUID  `db:"batch_id"`
		Kind           Kind       `db:"kind"`
		ObjectKey      string     `db:"object_key"`
		DeclaredSize   int64      `db:"declared_size"`
		DeclaredDigest string     `db:"declared_digest"`
		DeclaredMime   string     `db:"declared_mime"`
		MimeType       *string    `db:"mime_type"`
		State          State      `db:"state"`
		ErrorKind      *string    `db:"error_kind"`
		ErrorMessage   *string    `db:"error_message"`
		TrackID        *uuid.UUID `db:"track_id"`
		CreatedAt      time.Time  `db:"created_at"`
		TransitionedAt time.Time  `db:"transitioned_at"`

		// Owner and privacy are inherited from the batch the object belongs to
		OwnerID uuid.UUID `db:"creator_id"`
		Private bool      `db:"private"`
	}

	// DerivedAsset is an object produced by post-processing a READY media object,
	// such as an artwork thumbnail.
	DerivedAsset struct {
		ID            uuid.UUID `db:"id"`
		MediaObjectID uuid.UUID `db:"media_object_id"`
		Kind          string    `db:"kind"`
		ObjectKey     string    `db:"object_key"`
		CreatedAt     time.Time `db:"created_at"`
	}
)

const (
	Uploading State = "UPLOADING"
	Uploaded  State = "UPLOADED"
	Validated State = "VALIDATED"
	Ingested  State = "INGESTED"
	Ready     State = "READY"
	Failed    State = "FAILED"

	AudioKind   Kind = "audio"
	ArtworkKind Kind = "artwork"

	ThumbnailAsset     = "thumbnail"
	EmbeddedCoverAsset = "embedded_cover"
)

// transitions is the complete set of legal state transitions. Any transition
// not present in this table is rejected.
var transitions = map[State][]State{
	Uploading: {Uploaded, Failed},
	Uploaded:  {Validated, Failed},
	Validated: {Ingested, Failed},
	Ingested:  {Ready, Failed},
}

// CanTransitionTo returns true if the transition table allows a move from this
// state to the state provided.
func (s State) CanTransitionTo(to State) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}

	return false
}

// IsTerminal returns true for states which have no outgoing transitions
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s State) IsValid() bool {
	switch s {
	case Uploading, Uploaded, Validated, Ingested, Ready, Failed:
		return true
	}

	return false
}

func (k Kind) IsValid() bool {
	return k == AudioKind || k == ArtworkKind
}

// ExpectedMimePrefix is the MIME class an object of this kind must sniff as
func (k Kind) ExpectedMimePrefix() string {
	if k == ArtworkKind {
		return "image/"
	}

	return "audio/"
}

func (obj *MediaObject) String() string {
	return fmt.Sprintf("MediaObject{ID=%s Kind=%s State=%s Key=%s}", obj.ID, obj.Kind, obj.State, obj.ObjectKey)
}

// ThumbnailKey is the object key used for the thumbnail derived from this object
func (obj *MediaObject) ThumbnailKey() string {
	return obj.ObjectKey + ".thumb.jpg"
}

// EmbeddedCoverKey is the object key used for cover art extracted from this object
func (obj *MediaObject) EmbeddedCoverKey() string {
	return obj.ObjectKey + ".cover"
}
