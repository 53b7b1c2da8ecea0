package stream_test

import (
	"testing"

	"github.com/hbomb79/Cadence/internal/stream"
	"gotest.tools/v3/assert"
)

func Test_ParseRange(t *testing.T) {
	const size = 1000

	tests := []struct {
		summary  string
		header   string
		expected *stream.ByteRange
		err      error
	}{
		{"absent", "", nil, nil},
		{"closed", "bytes=0-99", &stream.ByteRange{Start: 0, End: 99}, nil},
		{"open ended", "bytes=900-", &stream.ByteRange{Start: 900, End: 999}, nil},
		{"end clamped", "bytes=990-5000", &stream.ByteRange{Start: 990, End: 999}, nil},
		{"single byte", "bytes=999-999", &stream.ByteRange{Start: 999, End: 999}, nil},
		{"suffix", "bytes=-100", &stream.ByteRange{Start: 900, End: 999}, nil},
		{"suffix longer than object", "bytes=-5000", &stream.ByteRange{Start: 0, End: 999}, nil},
		{"surrounding whitespace", "  bytes = 10-19 ", &stream.ByteRange{Start: 10, End: 19}, nil},
		{"start beyond end", "bytes=1000-", nil, stream.ErrUnsatisfiableRange},
		{"empty suffix", "bytes=-0", nil, stream.ErrUnsatisfiableRange},
		{"wrong unit", "items=0-10", nil, stream.ErrMalformedRange},
		{"no unit", "0-10", nil, stream.ErrMalformedRange},
		{"multiple ranges", "bytes=0-10,20-30", nil, stream.ErrMalformedRange},
		{"inverted", "bytes=50-10", nil, stream.ErrMalformedRange},
		{"no dash", "bytes=10", nil, stream.ErrMalformedRange},
		{"not numeric", "bytes=a-b", nil, stream.ErrMalformedRange},
		{"signed", "bytes=+1-10", nil, stream.ErrMalformedRange},
		{"empty spec", "bytes=-", nil, stream.ErrMalformedRange},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			actual, err := stream.ParseRange(test.header, size)
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
				return
			}

			assert.NilError(t, err)
			assert.DeepEqual(t, test.expected, actual)
		})
	}
}

func Test_ParseRange_EmptyObject(t *testing.T) {
	_, err := stream.ParseRange("bytes=0-", 0)
	assert.ErrorIs(t, err, stream.ErrUnsatisfiableRange)

	_, err = stream.ParseRange("bytes=-10", 0)
	assert.ErrorIs(t, err, stream.ErrUnsatisfiableRange)
}

func Test_ByteRange_ContentRange(t *testing.T) {
	r := stream.ByteRange{Start: 100, End: 199}
	assert.Equal(t, int64(100), r.Length())
	assert.Equal(t, "bytes 100-199/1000", r.ContentRange(1000))
}
