package extract

import (
	"errors"
	"io"
	"strings"

	"github.com/dhowden/tag"
)

const musicBrainzProvider = "http://musicbrainz.org"

func extractMp3(src Source) (*Metadata, error) {
	stream, err := scanMpegStream(src)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{Format: MP3, Duration: stream.duration, Bitrate: stream.bitrate}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fail(MP3, err, "unable to seek")
	}
	tags, err := tag.ReadFrom(src)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return nil, fail(MP3, err, "no ID3 tags present")
	} else if err != nil {
		return nil, fail(MP3, err, "invalid ID3 tag")
	}

	meta.Title = tags.Title()
	meta.Artist = tags.Artist()
	meta.Album = tags.Album()
	meta.AlbumArtist = tags.AlbumArtist()
	meta.Year = tags.Year()
	meta.TrackNumber, _ = tags.Track()
	meta.DiscNumber, _ = tags.Disc()
	meta.HasPicture = tags.Picture() != nil
	meta.ExternalID = musicBrainzTrackID(tags.Raw())
	if genre := tags.Genre(); genre != "" {
		meta.Genres = []string{genre}
	}

	return meta, nil
}

// musicBrainzTrackID finds the MusicBrainz recording identifier in the raw ID3
// frames. Picard stores it in a UFID frame, some older taggers use a TXXX frame.
func musicBrainzTrackID(raw map[string]interface{}) string {
	for _, frame := range raw {
		switch f := frame.(type) {
		case *tag.UFID:
			if f.Provider == musicBrainzProvider {
				return string(f.Identifier)
			}
		case *tag.Comm:
			if strings.EqualFold(f.Description, "MusicBrainz Track Id") {
				return f.Text
			}
		}
	}

	return ""
}

func mp3Picture(src Source) (*Picture, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fail(MP3, err, "unable to seek")
	}

	tags, err := tag.ReadFrom(src)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return nil, ErrNoPicture
	} else if err != nil {
		return nil, fail(MP3, err, "invalid ID3 tag")
	}

	pic := tags.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, ErrNoPicture
	}

	return &Picture{MIMEType: strings.ToLower(pic.MIMEType), Data: pic.Data}, nil
}
