package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const sealedSuffix = ".sealed"

// S3Store is a Store backed by any S3 compatible service. Upload grants are
// pre-signed PUT URLs, so clients upload directly to the bucket.
type S3Store struct {
	client   *minio.Client
	bucket   string
	grantTTL time.Duration
}

func NewS3Store(ctx context.Context, config S3Config, grantTTL time.Duration) (*S3Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct S3 client: %w", err)
	}

	store := &S3Store{client: client, bucket: config.Bucket, grantTTL: grantTTL}
	if config.CreateBucket {
		if err := store.ensureBucket(ctx, config.Region); err != nil {
			return nil, err
		}
	}

	return store, nil
}

func (store *S3Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := store.client.BucketExists(ctx, store.bucket)
	if err != nil {
		return classifyS3Error("bucket-exists", err)
	}
	if exists {
		return nil
	}

	log.Infof("Creating bucket %s\n", store.bucket)
	if err := store.client.MakeBucket(ctx, store.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("failed to create bucket '%s': %w", store.bucket, err)
	}

	return nil
}

func (store *S3Store) GrantUpload(ctx context.Context, key string, _ ContentHint) (*UploadGrant, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	expiresAt := time.Now().Add(store.grantTTL)
	u, err := store.client.PresignedPutObject(ctx, store.bucket, key, store.grantTTL)
	if err != nil {
		return nil, classifyS3Error("grant", err)
	}

	return &UploadGrant{URL: u.String(), Method: http.MethodPut, ExpiresAt: expiresAt}, nil
}

func (store *S3Store) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := store.client.StatObject(ctx, store.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		err = classifyS3Error("stat", err)
		if errors.Is(err, ErrObjectNotFound) {
			return &ObjectInfo{Key: key, Exists: false}, nil
		}

		return nil, err
	}

	return &ObjectInfo{Key: key, Exists: true, Size: info.Size}, nil
}

// Digest streams the entire object in order to compute its SHA-256 digest; ETags
// cannot be relied on as they are not content digests for multipart uploads. The
// ETag is still recorded as the version, so the digested content can be sealed.
func (store *S3Store) Digest(ctx context.Context, key string) (*ObjectInfo, error) {
	obj, err := store.client.GetObject(ctx, store.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3Error("digest", err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return nil, classifyS3Error("digest", err)
	}

	digest, size, err := DigestReader(obj)
	if err != nil {
		return nil, classifyS3Error("digest", err)
	}

	return &ObjectInfo{Key: key, Exists: true, Size: size, Digest: digest, Version: stat.ETag}, nil
}

// Seal copies the given version of the object to a key which no grant is ever
// issued for. A pre-signed PUT remains usable until it expires, so the content
// at the upload key itself can always be replaced.
func (store *S3Store) Seal(ctx context.Context, key string, version string) (string, error) {
	sealed := key + sealedSuffix
	_, err := store.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: store.bucket, Object: sealed},
		minio.CopySrcOptions{Bucket: store.bucket, Object: key, MatchETag: version},
	)
	if err != nil {
		return "", classifyS3Error("seal", err)
	}

	return sealed, nil
}

func (store *S3Store) FetchRange(ctx context.Context, key string, offset int64, length int64) (*RangeResult, error) {
	info, err := store.client.StatObject(ctx, store.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classifyS3Error("fetch", err)
	}

	servable, err := clampRange(offset, length, info.Size)
	if err != nil {
		return nil, err
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+servable-1); err != nil {
		return nil, err
	}

	obj, err := store.client.GetObject(ctx, store.bucket, key, opts)
	if err != nil {
		return nil, classifyS3Error("fetch", err)
	}

	return &RangeResult{Body: obj, Offset: offset, Length: servable, TotalSize: info.Size}, nil
}

func (store *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := store.client.PutObject(ctx, store.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return classifyS3Error("put", err)
	}

	return nil
}

// classifyS3Error converts minio errors in to the errors exposed by this package. Missing
// keys become ErrObjectNotFound and failed preconditions become ErrObjectChanged.
// Server side failures and connectivity problems are considered transient, and
// everything else is returned wrapped.
func classifyS3Error(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return ErrObjectNotFound
	case resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed:
		return ErrObjectChanged
	case resp.StatusCode == 0 || resp.StatusCode >= http.StatusInternalServerError:
		return &TransientError{Op: op, Err: err}
	default:
		return fmt.Errorf("object store %s failed: %w", op, err)
	}
}
