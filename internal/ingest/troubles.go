package ingest

import (
	"errors"
	"fmt"

	"github.com/hbomb79/Cadence/internal/catalog"
	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/hbomb79/Cadence/internal/objectstore"
)

type (
	TroubleKind string

	// Trouble is an error encountered while driving a media object through
	// ingestion. Terminal troubles move the object to FAILED and are recorded
	// against it. Transient troubles leave the state untouched and are returned
	// to the caller, who may retry the ingestion.
	Trouble struct {
		error
		kind TroubleKind
	}
)

const (
	TRANSIENT_STORE_ERROR   TroubleKind = "TRANSIENT_STORE_ERROR"
	OBJECT_NOT_YET_PRESENT  TroubleKind = "OBJECT_NOT_YET_PRESENT"
	INTEGRITY_MISMATCH      TroubleKind = "INTEGRITY_MISMATCH"
	EXTRACTION_FAILED       TroubleKind = "EXTRACTION_FAILED"
	RECONCILIATION_CONFLICT TroubleKind = "RECONCILIATION_CONFLICT"
)

var terminalTroubles = map[TroubleKind]bool{
	INTEGRITY_MISMATCH: true,
	EXTRACTION_FAILED:  true,
}

func NewTrouble(kind TroubleKind, err error) *Trouble {
	return &Trouble{error: err, kind: kind}
}

func newTroublef(kind TroubleKind, format string, args ...any) *Trouble {
	return &Trouble{error: fmt.Errorf(format, args...), kind: kind}
}

// classifyTrouble converts an error returned from a collaborator in to a Trouble
func classifyTrouble(err error) *Trouble {
	var trouble *Trouble
	var extractErr *extract.Error
	switch {
	case errors.As(err, &trouble):
		return trouble
	case objectstore.IsTransient(err):
		// Checked before extraction errors, as a store failure while the
		// extractor is reading surfaces wrapped inside the extraction error
		return NewTrouble(TRANSIENT_STORE_ERROR, err)
	case errors.As(err, &extractErr):
		return NewTrouble(EXTRACTION_FAILED, extractErr)
	case errors.Is(err, catalog.ErrReconcileExhausted):
		return NewTrouble(RECONCILIATION_CONFLICT, err)
	}

	return nil
}

func (t *Trouble) Kind() TroubleKind { return t.kind }

// IsTerminal returns true if this trouble should move the object to FAILED
func (t *Trouble) IsTerminal() bool { return terminalTroubles[t.kind] }

func (t *Trouble) Unwrap() error { return t.error }

func (t *Trouble) Error() string {
	return fmt.Sprintf("%s: %s", t.kind, t.error)
}

// IsRetryable returns true if the error provided is a non-terminal Trouble, and
// so the operation which produced it may be retried.
func IsRetryable(err error) bool {
	var trouble *Trouble
	return errors.As(err, &trouble) && !trouble.IsTerminal()
}
