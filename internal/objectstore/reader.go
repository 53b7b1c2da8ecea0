package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const DefaultChunkSize = 256 * 1024

// RangeReader adapts a Store object to io.ReadSeeker and io.ReaderAt, fetching
// the object in chunks as it is read. The most recently fetched chunk is retained,
// so the small, mostly sequential reads performed by metadata parsers do not
// result in a request per read.
//
// A RangeReader is not safe for concurrent use.
type RangeReader struct {
	ctx       context.Context
	store     Store
	key       string
	size      int64
	chunkSize int64

	offset     int64
	chunk      []byte
	chunkStart int64
}

// NewRangeReader returns a reader for the object with the given key. The size of
// the object must be known (typically from Stat) ahead of time.
func NewRangeReader(ctx context.Context, store Store, key string, size int64) *RangeReader {
	return &RangeReader{ctx: ctx, store: store, key: key, size: size, chunkSize: DefaultChunkSize, chunkStart: -1}
}

func (reader *RangeReader) Size() int64 { return reader.size }

func (reader *RangeReader) Read(p []byte) (int, error) {
	n, err := reader.ReadAt(p, reader.offset)
	reader.offset += int64(n)
	if err == io.EOF && n > 0 {
		return n, nil
	}

	return n, err
}

func (reader *RangeReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = reader.offset + offset
	case io.SeekEnd:
		abs = reader.size + offset
	default:
		return 0, errors.New("invalid whence")
	}

	if abs < 0 {
		return 0, errors.New("negative position")
	}

	reader.offset = abs
	return abs, nil
}

func (reader *RangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= reader.size {
		return 0, io.EOF
	}

	read := 0
	for read < len(p) && off < reader.size {
		if err := reader.load(off); err != nil {
			return read, err
		}

		n := copy(p[read:], reader.chunk[off-reader.chunkStart:])
		read += n
		off += int64(n)
	}

	if read < len(p) {
		return read, io.EOF
	}

	return read, nil
}

// load ensures the chunk containing the offset given is buffered.
func (reader *RangeReader) load(off int64) error {
	if reader.chunkStart >= 0 && off >= reader.chunkStart && off < reader.chunkStart+int64(len(reader.chunk)) {
		return nil
	}

	start := off - (off % reader.chunkSize)
	result, err := reader.store.FetchRange(reader.ctx, reader.key, start, reader.chunkSize)
	if err != nil {
		return fmt.Errorf("failed to fetch range %d+%d of '%s': %w", start, reader.chunkSize, reader.key, err)
	}
	defer result.Body.Close()

	buf := make([]byte, result.Length)
	if _, err := io.ReadFull(result.Body, buf); err != nil {
		return fmt.Errorf("failed to read range %d+%d of '%s': %w", start, result.Length, reader.key, err)
	}

	reader.chunk = buf
	reader.chunkStart = start
	return nil
}
