package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/database"
)

var ErrBatchNotFound = errors.New("upload batch does not exist")

// Store is the persistence layer for upload batches. The members of a batch are
// owned by the ingest store.
type Store struct{}

func (store *Store) CreateBatch(ctx context.Context, db database.Queryable, batch *UploadBatch) error {
	if err := db.GetContext(ctx, batch, `
		INSERT INTO upload_batches(id, creator_id, private)
		VALUES ($1, $2, $3)
		RETURNING *`, batch.ID, batch.CreatorID, batch.Private); err != nil {
		return fmt.Errorf("failed to insert upload batch: %w", err)
	}

	return nil
}

func (store *Store) GetBatch(ctx context.Context, db database.Queryable, id uuid.UUID) (*UploadBatch, error) {
	var batch UploadBatch
	if err := db.GetContext(ctx, &batch, `SELECT * FROM upload_batches WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}

	return &batch, nil
}

// LockBatch takes a row lock on the batch for the remainder of the transaction
// provided. Ingestion of the members of a batch which cross-reference each other
// (e.g. artwork and the audio it belongs to) must hold this lock, so that neither
// misses the other.
func (store *Store) LockBatch(ctx context.Context, db database.Queryable, id uuid.UUID) error {
	var locked uuid.UUID
	if err := db.GetContext(ctx, &locked, `SELECT id FROM upload_batches WHERE id=$1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBatchNotFound
		}
		return fmt.Errorf("failed to lock upload batch %s: %w", id, err)
	}

	return nil
}
