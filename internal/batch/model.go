package batch

import (
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/ingest"
)

type (
	// UploadBatch groups the media objects uploaded together (typically the audio
	// for one or more tracks, and their artwork).
	UploadBatch struct {
		ID        uuid.UUID `db:"id"`
		CreatorID uuid.UUID `db:"creator_id"`
		Private   bool      `db:"private"`
		CreatedAt time.Time `db:"created_at"`
	}

	AggregateStatus string

	// BatchStatus is the aggregate view of a batch, computed from the
	// state of its members at the time of reading.
	BatchStatus struct {
		Batch   *UploadBatch
		Status  AggregateStatus
		Members []*ingest.MediaObject
	}

	// SlotRequest describes the object a client intends to upload in to a batch
	SlotRequest struct {
		Kind           ingest.Kind
		DeclaredSize   int64
		DeclaredDigest string
		Mime           string
	}

	// MediaSlot is a media object created within a batch, along with the
	// grant the client must use to upload the object.
	MediaSlot struct {
		MediaObject *ingest.MediaObject
		UploadURL   string
		Method      string
		ExpiresAt   time.Time
	}
)

const (
	InProgress AggregateStatus = "IN_PROGRESS"
	Ready      AggregateStatus = "READY"
	Failed     AggregateStatus = "FAILED"
)

// Aggregate computes the status of a batch from the states of its members. Any
// FAILED member fails the batch, and a batch is READY only once every member is
// READY. A batch with no members is IN_PROGRESS, as it is still awaiting uploads.
func Aggregate(states []ingest.State) AggregateStatus {
	if len(states) == 0 {
		return InProgress
	}

	ready := 0
	for _, state := range states {
		switch state {
		case ingest.Failed:
			return Failed
		case ingest.Ready:
			ready++
		}
	}

	if ready == len(states) {
		return Ready
	}

	return InProgress
}

// ObjectKey returns the object store key for a media object within a batch
func ObjectKey(batchID uuid.UUID, mediaObjectID uuid.UUID) string {
	return "media/" + batchID.String() + "/" + mediaObjectID.String()
}
