// Package extract recovers structured metadata from untrusted audio containers.
//
// Supported containers are FLAC (Vorbis comments, STREAMINFO and PICTURE blocks) and
// MP3 (ID3v1/ID3v2 tags and the MPEG audio frame headers). Malformed input results
// in an *Error carrying a diagnostic suitable for surfacing to the uploader; the
// extractor never panics on bad input.
package extract

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hbomb79/Cadence/pkg/logger"
)

var log = logger.Get("Extractor")

type Format string

const (
	FLAC Format = "flac"
	MP3  Format = "mp3"

	UnknownArtist = "Unknown Artist"
	UnknownAlbum  = "Unknown Album"

	// MaxDuration bounds the duration accepted from container headers
	MaxDuration = 24 * time.Hour
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio container")
	ErrNoPicture         = errors.New("container has no embedded picture")
)

type (
	// Source is the random-access view of an object required by the extractor.
	// objectstore.RangeReader satisfies this interface.
	Source interface {
		io.ReadSeeker
		io.ReaderAt
		Size() int64
	}

	Metadata struct {
		Format      Format
		Title       string
		Artist      string
		Album       string
		AlbumArtist string
		TrackNumber int
		DiscNumber  int
		Genres      []string
		Year        int
		Duration    time.Duration
		// Bitrate in kbit/s. For variable bitrate files this is the average.
		Bitrate int
		// ExternalID is the MusicBrainz recording/track identifier, if tagged.
		ExternalID string
		HasPicture bool
	}

	Picture struct {
		MIMEType string
		Data     []byte
	}

	// Error is returned for any failure to understand the container. The
	// diagnostic is intended to be shown to the uploader.
	Error struct {
		Format     Format
		Diagnostic string
		Err        error
	}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s extraction failed: %s: %s", e.Format, e.Diagnostic, e.Err)
	}

	return fmt.Sprintf("%s extraction failed: %s", e.Format, e.Diagnostic)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(format Format, err error, diagnostic string, args ...any) *Error {
	return &Error{Format: format, Diagnostic: fmt.Sprintf(diagnostic, args...), Err: err}
}

// FormatForMime returns the container format expected for the given (sniffed) MIME type.
func FormatForMime(mime string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])) {
	case "audio/flac", "audio/x-flac":
		return FLAC, nil
	case "audio/mpeg", "audio/mp3", "audio/x-mpeg":
		return MP3, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Extract parses the container identified by the MIME type provided. Title and
// duration are mandatory; a missing artist or album is substituted with a
// placeholder so the track can still be catalogued.
func Extract(src Source, mime string) (meta *Metadata, err error) {
	format, err := FormatForMime(mime)
	if err != nil {
		return nil, fail(Format(mime), err, "content type %q is not a supported audio container", mime)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warnf("Recovered from panic while parsing %s container: %v\n", format, r)
			meta, err = nil, fail(format, nil, "container is malformed: %v", r)
		}
	}()

	switch format {
	case FLAC:
		meta, err = extractFlac(src)
	case MP3:
		meta, err = extractMp3(src)
	}
	if err != nil {
		return nil, err
	}

	if err := meta.finalize(); err != nil {
		return nil, err
	}

	return meta, nil
}

// ExtractPicture returns the first embedded picture (preferring the front cover) from
// the container, or ErrNoPicture if none is present.
func ExtractPicture(src Source, mime string) (pic *Picture, err error) {
	format, err := FormatForMime(mime)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			pic, err = nil, fail(format, nil, "container is malformed: %v", r)
		}
	}()

	switch format {
	case FLAC:
		return flacPicture(src)
	default:
		return mp3Picture(src)
	}
}

func (meta *Metadata) finalize() error {
	meta.Title = strings.TrimSpace(meta.Title)
	meta.Artist = strings.TrimSpace(meta.Artist)
	meta.Album = strings.TrimSpace(meta.Album)
	meta.AlbumArtist = strings.TrimSpace(meta.AlbumArtist)
	meta.ExternalID = strings.TrimSpace(meta.ExternalID)

	if meta.Title == "" {
		return fail(meta.Format, nil, "no title tag present")
	}
	if meta.Duration <= 0 {
		return fail(meta.Format, nil, "unable to determine duration")
	}
	if meta.Duration > MaxDuration {
		return fail(meta.Format, nil, "duration %s exceeds the maximum of %s", meta.Duration, MaxDuration)
	}

	if meta.Artist == "" {
		meta.Artist = meta.AlbumArtist
	}
	if meta.Artist == "" {
		meta.Artist = UnknownArtist
	}
	if meta.Album == "" {
		meta.Album = UnknownAlbum
	}

	genres := make([]string, 0, len(meta.Genres))
	seen := make(map[string]struct{})
	for _, g := range meta.Genres {
		for _, part := range strings.Split(g, ";") {
			part = strings.TrimSpace(part)
			if _, ok := seen[strings.ToLower(part)]; part == "" || ok {
				continue
			}
			seen[strings.ToLower(part)] = struct{}{}
			genres = append(genres, part)
		}
	}
	meta.Genres = genres

	return nil
}

// parseIndex parses tag values such as "3" or "3/12", returning the leading number.
func parseIndex(v string) int {
	v = strings.TrimSpace(strings.SplitN(v, "/", 2)[0])
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}

	return n
}

// parseYear accepts either a bare year or an ISO-8601 style date.
func parseYear(v string) int {
	v = strings.TrimSpace(v)
	if len(v) < 4 {
		return 0
	}

	year, err := strconv.Atoi(v[:4])
	if err != nil {
		return 0
	}

	return year
}

// MetadataExtractor exposes the package level extraction functions as a type,
// for consumers which accept an extractor as a dependency.
type MetadataExtractor struct{}

func (MetadataExtractor) ExtractMetadata(src Source, mime string) (*Metadata, error) {
	return Extract(src, mime)
}

func (MetadataExtractor) ExtractPicture(src Source, mime string) (*Picture, error) {
	return ExtractPicture(src, mime)
}

// sampleDuration returns the playing time of the given number of samples. Counts
// read from headers are untrusted, so the result is capped just beyond MaxDuration
// rather than being allowed to overflow.
func sampleDuration(samples uint64, sampleRate uint64) time.Duration {
	seconds := samples / sampleRate
	if seconds > uint64(MaxDuration/time.Second) {
		return MaxDuration + time.Second
	}

	remainder := samples % sampleRate
	return time.Duration(seconds)*time.Second + time.Duration(remainder*uint64(time.Second)/sampleRate)
}
