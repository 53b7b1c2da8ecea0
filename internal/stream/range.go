package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedRange is returned for any Range header which cannot be understood.
	// Malformed ranges are ignored, and the full object is served.
	ErrMalformedRange = errors.New("range header is malformed")

	// ErrUnsatisfiableRange is returned for a syntactically valid range which lies
	// entirely outside of the object.
	ErrUnsatisfiableRange = errors.New("range is not satisfiable")
)

// ByteRange is an inclusive range of byte offsets within an object
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ContentRange formats the range for use in a Content-Range header
func (r ByteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange parses a single-range Range header against an object of the given
// size. A nil range and nil error is returned when the header is empty. Ranges
// which extend beyond the end of the object are clamped to it.
//
// Supported forms are 'bytes=a-b', 'bytes=a-' and 'bytes=-n'. Requests for more
// than one range are treated as malformed.
func ParseRange(header string, size int64) (*ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	unit, spec, ok := strings.Cut(header, "=")
	if !ok || strings.TrimSpace(unit) != "bytes" || strings.Contains(spec, ",") {
		return nil, ErrMalformedRange
	}

	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, ErrMalformedRange
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		// Suffix range, the final 'n' bytes of the object
		n, err := parseOffset(last)
		if err != nil {
			return nil, err
		}
		if n == 0 || size == 0 {
			return nil, ErrUnsatisfiableRange
		}

		return &ByteRange{Start: max(size-n, 0), End: size - 1}, nil
	}

	start, err := parseOffset(first)
	if err != nil {
		return nil, err
	}

	end := size - 1
	if last != "" {
		if end, err = parseOffset(last); err != nil {
			return nil, err
		}
		if end < start {
			return nil, ErrMalformedRange
		}
	}

	if start >= size {
		return nil, ErrUnsatisfiableRange
	}

	return &ByteRange{Start: start, End: min(end, size-1)}, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" || strings.ContainsAny(s, "+-") {
		return 0, ErrMalformedRange
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrMalformedRange
	}

	return v, nil
}
