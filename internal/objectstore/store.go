package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hbomb79/Cadence/pkg/logger"
)

var log = logger.Get("ObjectStore")

var (
	// ErrObjectNotFound is returned when no object exists at the requested key. This
	// is distinct from an object which exists but is empty.
	ErrObjectNotFound = errors.New("object does not exist")

	// ErrInvalidRange is returned by FetchRange when the requested offset lies
	// outside of the object.
	ErrInvalidRange = errors.New("requested range is outside of the object")

	// ErrObjectExists is returned when an upload targets a key which already holds
	// content. Uploaded objects are write-once.
	ErrObjectExists = errors.New("an object already exists at the key")

	// ErrObjectChanged is returned by Seal when the content at the key is no longer
	// the version which was read.
	ErrObjectChanged = errors.New("object content changed since it was read")

	ErrInvalidKey   = errors.New("object key is not valid")
	ErrGrantInvalid = errors.New("upload grant is invalid or has expired")
)

type (
	// ContentHint describes the type of content a client is expected to upload
	// using a grant. Backends may use it to constrain the upload (e.g. content-type).
	ContentHint string

	// UploadGrant is a time-limited URL which allows a client to upload a single
	// object directly to the store, bound to exactly one key.
	UploadGrant struct {
		URL       string
		Method    string
		ExpiresAt time.Time
	}

	// ObjectInfo describes an object in the store. Digest is only populated by
	// Digest, as computing it requires reading the whole object. Version identifies
	// the exact content which was digested, and is empty for backends whose
	// content cannot change once written.
	ObjectInfo struct {
		Key     string
		Exists  bool
		Size    int64
		Digest  string
		Version string
	}

	// RangeResult contains the body for a range of an object. Length is the number
	// of bytes available from Body (which may be less than requested if the range
	// extends beyond the end of the object), and TotalSize is always the
	// authoritative size of the whole object.
	RangeResult struct {
		Body      io.ReadCloser
		Offset    int64
		Length    int64
		TotalSize int64
	}

	// Store abstracts all interactions with the underlying object storage.
	//
	// Implementations must be safe for concurrent use.
	Store interface {
		GrantUpload(ctx context.Context, key string, hint ContentHint) (*UploadGrant, error)
		Stat(ctx context.Context, key string) (*ObjectInfo, error)
		Digest(ctx context.Context, key string) (*ObjectInfo, error)
		FetchRange(ctx context.Context, key string, offset int64, length int64) (*RangeResult, error)
		Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

		// Seal pins the given version of the object so that it can no longer be
		// replaced using an upload grant, returning the key the sealed content
		// is readable from.
		Seal(ctx context.Context, key string, version string) (string, error)
	}

	// TransientError wraps a failure to communicate with the store which is
	// expected to resolve itself (e.g. the store is unreachable). Callers should
	// retry with backoff.
	TransientError struct {
		Op  string
		Err error
	}
)

const (
	AudioContent   ContentHint = "audio"
	ArtworkContent ContentHint = "artwork"
)

func (e *TransientError) Error() string {
	return fmt.Sprintf("object store %s failed (transient): %s", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient returns true if the error is (or wraps) a TransientError
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// clampRange validates the offset against the total size of an object, and returns
// the length of the range which can actually be served.
func clampRange(offset, length, total int64) (int64, error) {
	if offset < 0 || length < 0 || offset >= total {
		return 0, ErrInvalidRange
	}

	if length == 0 || offset+length > total {
		return total - offset, nil
	}

	return length, nil
}
