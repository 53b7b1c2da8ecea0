package extract_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/stretchr/testify/require"
)

const (
	flacStreamInfoType    = 0
	flacVorbisCommentType = 4
	flacPictureType       = 6
)

type flacFixture struct {
	sampleRate   uint64
	totalSamples uint64
	comments     map[string][]string
	picture      []byte
}

// build produces a FLAC file consisting solely of metadata blocks, followed by
// some padding bytes which stand in for audio frames.
func (fixture flacFixture) build(t *testing.T) []byte {
	t.Helper()

	streamInfo := make([]byte, 34)
	binary.BigEndian.PutUint16(streamInfo[0:], 4096)
	binary.BigEndian.PutUint16(streamInfo[2:], 4096)
	packed := fixture.sampleRate<<44 | uint64(1)<<41 | uint64(15)<<36 | fixture.totalSamples
	binary.BigEndian.PutUint64(streamInfo[10:], packed)

	type block struct {
		kind byte
		data []byte
	}
	blocks := []block{{flacStreamInfoType, streamInfo}}

	if fixture.comments != nil {
		comment := flacvorbis.New()
		for key, values := range fixture.comments {
			for _, v := range values {
				comment.Comments = append(comment.Comments, key+"="+v)
			}
		}
		marshalled := comment.Marshal()
		blocks = append(blocks, block{flacVorbisCommentType, marshalled.Data})
	}

	if fixture.picture != nil {
		pic, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front Cover", fixture.picture, "image/png")
		require.NoError(t, err)
		marshalled := pic.Marshal()
		blocks = append(blocks, block{flacPictureType, marshalled.Data})
	}

	out := bytes.NewBufferString("fLaC")
	for i, b := range blocks {
		header := b.kind
		if i == len(blocks)-1 {
			header |= 0x80
		}

		out.WriteByte(header)
		out.Write([]byte{byte(len(b.data) >> 16), byte(len(b.data) >> 8), byte(len(b.data))})
		out.Write(b.data)
	}
	out.Write(make([]byte, 4096))

	return out.Bytes()
}

type mp3Fixture struct {
	frames     map[string][]byte
	frameCount int
	xingFrames uint32
	id3v1      bool
}

// 128kbit/s, 44.1kHz, MPEG-1 Layer III, stereo, no padding
var mpegFrameHeader = []byte{0xFF, 0xFB, 0x90, 0x00}

const mpegFrameLength = 417

func textFrame(value string) []byte {
	return append([]byte{0x00}, []byte(value)...)
}

func ufidFrame(owner string, identifier string) []byte {
	return append(append([]byte(owner), 0x00), []byte(identifier)...)
}

func (fixture mp3Fixture) build() []byte {
	tagBody := &bytes.Buffer{}
	for id, data := range fixture.frames {
		tagBody.WriteString(id)
		_ = binary.Write(tagBody, binary.BigEndian, uint32(len(data)))
		tagBody.Write([]byte{0x00, 0x00})
		tagBody.Write(data)
	}

	out := &bytes.Buffer{}
	if tagBody.Len() > 0 {
		size := tagBody.Len()
		out.WriteString("ID3")
		out.Write([]byte{0x03, 0x00, 0x00})
		out.Write([]byte{byte(size>>21) & 0x7F, byte(size>>14) & 0x7F, byte(size>>7) & 0x7F, byte(size) & 0x7F})
		out.Write(tagBody.Bytes())
	}

	for i := 0; i < fixture.frameCount; i++ {
		frame := make([]byte, mpegFrameLength)
		copy(frame, mpegFrameHeader)
		if i == 0 && fixture.xingFrames > 0 {
			// Xing header follows the 32 byte side info of a stereo MPEG-1 frame
			copy(frame[36:], "Xing")
			binary.BigEndian.PutUint32(frame[40:], 0x1)
			binary.BigEndian.PutUint32(frame[44:], fixture.xingFrames)
		}
		out.Write(frame)
	}

	if fixture.id3v1 {
		trailer := make([]byte, 128)
		copy(trailer, "TAG")
		out.Write(trailer)
	}

	return out.Bytes()
}

func pngFixture(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}
