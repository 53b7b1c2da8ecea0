package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

// LocalStore is a filesystem backed Store. Uploads are not written directly by
// clients; instead, GrantUpload returns a signed URL pointing at the upload sink
// exposed by the REST gateway, which verifies the signature via AcceptUpload.
type LocalStore struct {
	root          string
	publicBaseURL string
	grantTTL      time.Duration
	signer        *grantSigner
}

func NewLocalStore(config LocalConfig, grantTTL time.Duration) (*LocalStore, error) {
	signer, err := newGrantSigner([]byte(config.SigningSecret))
	if err != nil {
		return nil, err
	}

	expanded, err := homedir.Expand(config.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand object store root: %w", err)
	}
	root, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve object store root: %w", err)
	}
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create object store root '%s': %w", root, err)
	}

	return &LocalStore{
		root:          root,
		publicBaseURL: strings.TrimSuffix(config.PublicBaseURL, "/"),
		grantTTL:      grantTTL,
		signer:        signer,
	}, nil
}

func (store *LocalStore) GrantUpload(_ context.Context, key string, _ ContentHint) (*UploadGrant, error) {
	if _, err := store.pathFor(key); err != nil {
		return nil, err
	}

	expiresAt := store.signer.now().Add(store.grantTTL).Truncate(time.Second)
	signature := store.signer.sign(http.MethodPut, key, expiresAt.Unix())

	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expiresAt.Unix(), 10))
	query.Set("signature", signature)

	return &UploadGrant{
		URL:       fmt.Sprintf("%s/%s?%s", store.publicBaseURL, escapeKey(key), query.Encode()),
		Method:    http.MethodPut,
		ExpiresAt: expiresAt,
	}, nil
}

// AcceptUpload verifies the grant parameters provided by a client against the key
// being uploaded, and stores the body if valid. Grants are never usable for a
// different key, and a key which already holds content cannot be written again.
func (store *LocalStore) AcceptUpload(ctx context.Context, key string, expires string, signature string, body io.Reader, size int64) error {
	if err := store.signer.verify(http.MethodPut, key, expires, signature); err != nil {
		return err
	}

	if info, err := store.Stat(ctx, key); err != nil {
		return err
	} else if info.Exists {
		return ErrObjectExists
	}

	return store.write(ctx, key, body, size, false)
}

func (store *LocalStore) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	p, err := store.pathFor(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return &ObjectInfo{Key: key, Exists: false}, nil
	} else if err != nil {
		return nil, &TransientError{Op: "stat", Err: err}
	}

	return &ObjectInfo{Key: key, Exists: true, Size: info.Size()}, nil
}

func (store *LocalStore) Digest(_ context.Context, key string) (*ObjectInfo, error) {
	p, err := store.pathFor(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	} else if err != nil {
		return nil, &TransientError{Op: "digest", Err: err}
	}
	defer file.Close()

	digest, size, err := DigestReader(file)
	if err != nil {
		return nil, &TransientError{Op: "digest", Err: err}
	}

	return &ObjectInfo{Key: key, Exists: true, Size: size, Digest: digest}, nil
}

func (store *LocalStore) FetchRange(_ context.Context, key string, offset int64, length int64) (*RangeResult, error) {
	p, err := store.pathFor(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	} else if err != nil {
		return nil, &TransientError{Op: "fetch", Err: err}
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &TransientError{Op: "fetch", Err: err}
	}

	servable, err := clampRange(offset, length, info.Size())
	if err != nil {
		file.Close()
		return nil, err
	}

	return &RangeResult{
		Body:      &sectionReadCloser{io.NewSectionReader(file, offset, servable), file},
		Offset:    offset,
		Length:    servable,
		TotalSize: info.Size(),
	}, nil
}

// Put writes the body to a temporary file alongside the destination, and renames
// it in to place once complete so that readers never observe a partial object.
func (store *LocalStore) Put(ctx context.Context, key string, body io.Reader, size int64, _ string) error {
	return store.write(ctx, key, body, size, true)
}

// Seal is a no-op beyond checking the object exists, as uploads to the local store
// are write-once and so the content at the key can never change.
func (store *LocalStore) Seal(ctx context.Context, key string, _ string) (string, error) {
	info, err := store.Stat(ctx, key)
	if err != nil {
		return "", err
	} else if !info.Exists {
		return "", ErrObjectNotFound
	}

	return key, nil
}

func (store *LocalStore) write(ctx context.Context, key string, body io.Reader, size int64, replace bool) error {
	p, err := store.pathFor(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), os.ModePerm); err != nil {
		return &TransientError{Op: "put", Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return &TransientError{Op: "put", Err: err}
	}
	defer os.Remove(tmp.Name())

	if size >= 0 {
		body = io.LimitReader(body, size)
	}
	if _, err := io.Copy(tmp, &contextReader{ctx, body}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write object '%s': %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return &TransientError{Op: "put", Err: err}
	}

	if replace {
		err = os.Rename(tmp.Name(), p)
	} else {
		// Linking fails if the destination exists, so two concurrent uploads
		// to the same key cannot both succeed
		err = os.Link(tmp.Name(), p)
		if errors.Is(err, fs.ErrExist) {
			return ErrObjectExists
		}
	}
	if err != nil {
		return &TransientError{Op: "put", Err: err}
	}

	log.Debugf("Stored object %s\n", key)
	return nil
}

// pathFor resolves the key to a path inside of the store root, rejecting any key
// which would escape it.
func (store *LocalStore) pathFor(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}

	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", ErrInvalidKey
	}

	return filepath.Join(store.root, filepath.FromSlash(cleaned)), nil
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	return strings.Join(segments, "/")
}

type sectionReadCloser struct {
	*io.SectionReader
	closer io.Closer
}

func (s *sectionReadCloser) Close() error { return s.closer.Close() }

// contextReader stops a copy once the context is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	return r.r.Read(p)
}
