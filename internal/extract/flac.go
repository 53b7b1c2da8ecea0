package extract

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

const streamInfoLength = 34

func parseFlacBlocks(src Source) (*flac.File, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fail(FLAC, err, "unable to seek")
	}

	file, err := flac.ParseMetadata(src)
	if err != nil {
		return nil, fail(FLAC, err, "invalid FLAC metadata")
	}
	if len(file.Meta) == 0 || file.Meta[0].Type != flac.StreamInfo {
		return nil, fail(FLAC, nil, "first metadata block is not STREAMINFO")
	}

	return file, nil
}

func extractFlac(src Source) (*Metadata, error) {
	file, err := parseFlacBlocks(src)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{Format: FLAC}
	if err := readStreamInfo(meta, file.Meta[0].Data, src.Size()); err != nil {
		return nil, err
	}

	for _, block := range file.Meta {
		switch block.Type {
		case flac.VorbisComment:
			comments, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				return nil, fail(FLAC, err, "invalid VORBIS_COMMENT block")
			}
			applyVorbisComments(meta, comments)
		case flac.Picture:
			meta.HasPicture = true
		}
	}

	return meta, nil
}

// readStreamInfo decodes the sample rate and total sample count from the STREAMINFO
// block. Layout: 16b min block, 16b max block, 24b min frame, 24b max frame,
// 20b sample rate, 3b channels, 5b bits per sample, 36b total samples, 128b MD5.
func readStreamInfo(meta *Metadata, data []byte, size int64) error {
	if len(data) < streamInfoLength {
		return fail(FLAC, nil, "STREAMINFO block is truncated (%d bytes)", len(data))
	}

	packed := binary.BigEndian.Uint64(data[10:18])
	sampleRate := packed >> 44
	totalSamples := packed & 0xFFFFFFFFF
	if sampleRate == 0 {
		return fail(FLAC, nil, "STREAMINFO declares a sample rate of zero")
	}
	if totalSamples == 0 {
		return fail(FLAC, nil, "STREAMINFO does not declare the total sample count")
	}

	meta.Duration = sampleDuration(totalSamples, sampleRate)
	if seconds := meta.Duration.Seconds(); seconds > 0 {
		meta.Bitrate = int(float64(size*8) / seconds / 1000)
	}

	return nil
}

func applyVorbisComments(meta *Metadata, comments *flacvorbis.MetaDataBlockVorbisComment) {
	fields := make(map[string][]string)
	for _, comment := range comments.Comments {
		key, value, ok := strings.Cut(comment, "=")
		if !ok {
			continue
		}

		key = strings.ToUpper(key)
		fields[key] = append(fields[key], value)
	}

	first := func(key string) string {
		if values := fields[key]; len(values) > 0 {
			return values[0]
		}

		return ""
	}

	meta.Title = first(flacvorbis.FIELD_TITLE)
	meta.Artist = first(flacvorbis.FIELD_ARTIST)
	meta.Album = first(flacvorbis.FIELD_ALBUM)
	meta.AlbumArtist = first("ALBUMARTIST")
	meta.TrackNumber = parseIndex(first(flacvorbis.FIELD_TRACKNUMBER))
	meta.DiscNumber = parseIndex(first("DISCNUMBER"))
	meta.ExternalID = first("MUSICBRAINZ_TRACKID")

	if meta.Year = parseYear(first(flacvorbis.FIELD_DATE)); meta.Year == 0 {
		meta.Year = parseYear(first("YEAR"))
	}

	meta.Genres = append(meta.Genres, fields[flacvorbis.FIELD_GENRE]...)
}

func flacPicture(src Source) (*Picture, error) {
	file, err := parseFlacBlocks(src)
	if err != nil {
		return nil, err
	}

	var found *Picture
	for _, block := range file.Meta {
		if block.Type != flac.Picture {
			continue
		}

		pic, err := flacpicture.ParseFromMetaDataBlock(*block)
		if err != nil {
			return nil, fail(FLAC, err, "invalid PICTURE block")
		}

		candidate := &Picture{MIMEType: strings.ToLower(pic.MIME), Data: pic.ImageData}
		if pic.PictureType == flacpicture.PictureTypeFrontCover {
			return candidate, nil
		}
		if found == nil {
			found = candidate
		}
	}

	if found == nil {
		return nil, ErrNoPicture
	}

	return found, nil
}
