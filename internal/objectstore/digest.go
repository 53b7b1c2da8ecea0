package objectstore

import (
	"encoding/hex"
	"io"
	"strings"

	"github.com/minio/sha256-simd"
)

// DigestReader consumes the reader entirely and returns the lowercase hex
// SHA-256 digest of its content, along with the number of bytes read.
func DigestReader(r io.Reader) (string, int64, error) {
	hasher := sha256.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return "", n, err
	}

	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// NormalizeDigest lower-cases a hex digest and strips an optional
// 'sha256:' prefix, so that client supplied digests can be compared
// with those computed by the store.
func NormalizeDigest(digest string) string {
	digest = strings.ToLower(strings.TrimSpace(digest))
	return strings.TrimPrefix(digest, "sha256:")
}
