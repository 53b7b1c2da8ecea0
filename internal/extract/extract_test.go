package extract_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_FLAC_ExtractsVorbisComments(t *testing.T) {
	data := flacFixture{
		sampleRate:   44100,
		totalSamples: 44100 * 185,
		comments: map[string][]string{
			"TITLE":               {"  Paranoid Android "},
			"ARTIST":              {"Radiohead"},
			"ALBUM":               {"OK Computer"},
			"albumartist":         {"Radiohead"},
			"TRACKNUMBER":         {"2/12"},
			"DISCNUMBER":          {"1"},
			"DATE":                {"1997-05-21"},
			"GENRE":               {"Alternative; Rock", "rock"},
			"MUSICBRAINZ_TRACKID": {"8cd4f5b2-3c38-4f2a-9c2b-0d2d6c1f8f7a"},
		},
	}.build(t)

	meta, err := extract.Extract(bytes.NewReader(data), "audio/flac")
	require.NoError(t, err)

	assert.Equal(t, extract.FLAC, meta.Format)
	assert.Equal(t, "Paranoid Android", meta.Title)
	assert.Equal(t, "Radiohead", meta.Artist)
	assert.Equal(t, "OK Computer", meta.Album)
	assert.Equal(t, "Radiohead", meta.AlbumArtist)
	assert.Equal(t, 2, meta.TrackNumber)
	assert.Equal(t, 1, meta.DiscNumber)
	assert.Equal(t, 1997, meta.Year)
	assert.Equal(t, 185*time.Second, meta.Duration)
	assert.Equal(t, []string{"Alternative", "Rock"}, meta.Genres)
	assert.Equal(t, "8cd4f5b2-3c38-4f2a-9c2b-0d2d6c1f8f7a", meta.ExternalID)
	assert.False(t, meta.HasPicture)
}

func Test_FLAC_MissingArtistAndAlbumArePlaceholders(t *testing.T) {
	data := flacFixture{
		sampleRate:   48000,
		totalSamples: 48000 * 3,
		comments:     map[string][]string{"TITLE": {"Untitled Demo"}},
	}.build(t)

	meta, err := extract.Extract(bytes.NewReader(data), "audio/x-flac")
	require.NoError(t, err)
	assert.Equal(t, extract.UnknownArtist, meta.Artist)
	assert.Equal(t, extract.UnknownAlbum, meta.Album)
}

func Test_FLAC_DurationFromStreamInfo(t *testing.T) {
	tests := []struct {
		summary      string
		sampleRate   uint64
		totalSamples uint64
		expected     time.Duration
	}{
		{"Fractional seconds", 44100, 44100*3 + 22050, 3500 * time.Millisecond},
		{"Longest accepted", 1, uint64(extract.MaxDuration / time.Second), extract.MaxDuration},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			data := flacFixture{sampleRate: test.sampleRate, totalSamples: test.totalSamples, comments: map[string][]string{"TITLE": {"x"}}}.build(t)

			meta, err := extract.Extract(bytes.NewReader(data), "audio/flac")
			require.NoError(t, err)
			assert.Equal(t, test.expected, meta.Duration)
		})
	}
}

func Test_FLAC_ImplausibleDurationRejected(t *testing.T) {
	// The largest sample count STREAMINFO can express would overflow a
	// time.Duration at this sample rate
	for _, totalSamples := range []uint64{1<<36 - 1, uint64(extract.MaxDuration/time.Second) + 1} {
		data := flacFixture{sampleRate: 1, totalSamples: totalSamples, comments: map[string][]string{"TITLE": {"x"}}}.build(t)

		meta, err := extract.Extract(bytes.NewReader(data), "audio/flac")
		assert.Nil(t, meta)

		var extractErr *extract.Error
		require.ErrorAs(t, err, &extractErr)
		assert.Contains(t, extractErr.Diagnostic, "exceeds the maximum")
	}
}

func Test_FLAC_EmbeddedPicture(t *testing.T) {
	cover := pngFixture(t)
	data := flacFixture{
		sampleRate:   44100,
		totalSamples: 44100 * 10,
		comments:     map[string][]string{"TITLE": {"With Cover"}, "ARTIST": {"Someone"}},
		picture:      cover,
	}.build(t)

	meta, err := extract.Extract(bytes.NewReader(data), "audio/flac")
	require.NoError(t, err)
	assert.True(t, meta.HasPicture)

	pic, err := extract.ExtractPicture(bytes.NewReader(data), "audio/flac")
	require.NoError(t, err)
	assert.Equal(t, "image/png", pic.MIMEType)
	assert.Equal(t, cover, pic.Data)
}

func Test_FLAC_NoPicture(t *testing.T) {
	data := flacFixture{sampleRate: 44100, totalSamples: 44100, comments: map[string][]string{"TITLE": {"x"}}}.build(t)

	_, err := extract.ExtractPicture(bytes.NewReader(data), "audio/flac")
	assert.ErrorIs(t, err, extract.ErrNoPicture)
}

func Test_MP3_CBR(t *testing.T) {
	data := mp3Fixture{
		frames: map[string][]byte{
			"TIT2": textFrame("Teardrop"),
			"TPE1": textFrame("Massive Attack"),
			"TALB": textFrame("Mezzanine"),
			"TRCK": textFrame("3/11"),
			"TYER": textFrame("1998"),
			"TCON": textFrame("Trip-Hop"),
			"UFID": ufidFrame("http://musicbrainz.org", "5c8c33b5-0b3e-4c5b-9c68-8d7f3c4f0b9e"),
		},
		frameCount: 100,
		id3v1:      true,
	}.build()

	meta, err := extract.Extract(bytes.NewReader(data), "audio/mpeg")
	require.NoError(t, err)

	assert.Equal(t, extract.MP3, meta.Format)
	assert.Equal(t, "Teardrop", meta.Title)
	assert.Equal(t, "Massive Attack", meta.Artist)
	assert.Equal(t, "Mezzanine", meta.Album)
	assert.Equal(t, 3, meta.TrackNumber)
	assert.Equal(t, 1998, meta.Year)
	assert.Equal(t, []string{"Trip-Hop"}, meta.Genres)
	assert.Equal(t, "5c8c33b5-0b3e-4c5b-9c68-8d7f3c4f0b9e", meta.ExternalID)
	assert.Equal(t, 128, meta.Bitrate)

	// 100 frames of 417 bytes at 128kbit/s
	assert.Equal(t, 2606250*time.Microsecond, meta.Duration)
}

func Test_MP3_XingFrameCount(t *testing.T) {
	data := mp3Fixture{
		frames:     map[string][]byte{"TIT2": textFrame("Variable")},
		frameCount: 10,
		xingFrames: 441,
	}.build()

	meta, err := extract.Extract(bytes.NewReader(data), "audio/mpeg")
	require.NoError(t, err)

	// 441 frames * 1152 samples / 44100Hz
	assert.Equal(t, 11520*time.Millisecond, meta.Duration)
}

func Test_MP3_WithoutTitleFails(t *testing.T) {
	data := mp3Fixture{frames: map[string][]byte{"TPE1": textFrame("Nobody")}, frameCount: 10}.build()

	_, err := extract.Extract(bytes.NewReader(data), "audio/mpeg")
	var extractErr *extract.Error
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, extract.MP3, extractErr.Format)
	assert.Contains(t, extractErr.Diagnostic, "title")
}

func Test_MalformedInputFailsWithDiagnostic(t *testing.T) {
	garbage := make([]byte, 8192)
	for i := range garbage {
		garbage[i] = byte((i*31 + 7) % 251)
	}

	validFlac := flacFixture{sampleRate: 44100, totalSamples: 44100, comments: map[string][]string{"TITLE": {"x"}}}.build(t)

	tests := []struct {
		summary string
		data    []byte
		mime    string
	}{
		{"Noise as FLAC", garbage, "audio/flac"},
		{"Noise as MP3", garbage, "audio/mpeg"},
		{"Empty FLAC", []byte{}, "audio/flac"},
		{"Truncated FLAC", validFlac[:20], "audio/flac"},
		{"FLAC magic only", []byte("fLaC"), "audio/flac"},
		{"ID3 header exceeding file", []byte("ID3\x03\x00\x00\x7f\x7f\x7f\x7f"), "audio/mpeg"},
		{"Unsupported container", validFlac, "audio/ogg"},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			assert.NotPanics(t, func() {
				meta, err := extract.Extract(bytes.NewReader(test.data), test.mime)
				assert.Nil(t, meta)

				var extractErr *extract.Error
				if assert.ErrorAs(t, err, &extractErr) {
					assert.NotEmpty(t, extractErr.Diagnostic)
				}
			})
		})
	}
}

func Test_FormatForMime(t *testing.T) {
	tests := []struct {
		mime     string
		expected extract.Format
		err      error
	}{
		{"audio/flac", extract.FLAC, nil},
		{"audio/x-flac", extract.FLAC, nil},
		{"audio/mpeg", extract.MP3, nil},
		{"Audio/MPEG; charset=binary", extract.MP3, nil},
		{"audio/wav", "", extract.ErrUnsupportedFormat},
		{"image/png", "", extract.ErrUnsupportedFormat},
	}

	for _, test := range tests {
		t.Run(test.mime, func(t *testing.T) {
			format, err := extract.FormatForMime(test.mime)
			assert.ErrorIs(t, err, test.err)
			assert.Equal(t, test.expected, format)
		})
	}
}
