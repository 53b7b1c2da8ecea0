package extract

import (
	"encoding/binary"
	"time"
)

const (
	id3v2HeaderLength = 10
	id3v1Length       = 128
	syncScanLimit     = 64 * 1024

	mpegVersion1  = 3
	mpegVersion2  = 2
	mpegVersion25 = 0
	layerIII      = 1
)

var (
	layer3Bitrates = map[bool][16]int{
		true:  {0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, -1},
		false: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
	}
	sampleRates = map[int][3]int{
		mpegVersion1:  {44100, 48000, 32000},
		mpegVersion2:  {22050, 24000, 16000},
		mpegVersion25: {11025, 12000, 8000},
	}
)

type (
	frameHeader struct {
		version    int
		bitrate    int
		sampleRate int
		padding    int
		mono       bool
	}

	mpegStream struct {
		duration time.Duration
		bitrate  int
	}
)

func (h frameHeader) samplesPerFrame() int {
	if h.version == mpegVersion1 {
		return 1152
	}

	return 576
}

func (h frameHeader) length() int {
	if h.version == mpegVersion1 {
		return 144*h.bitrate*1000/h.sampleRate + h.padding
	}

	return 72*h.bitrate*1000/h.sampleRate + h.padding
}

// sideInfoLength is the size of the Layer III side information which follows the
// frame header, and precedes any Xing/Info header.
func (h frameHeader) sideInfoLength() int {
	switch {
	case h.version == mpegVersion1 && h.mono:
		return 17
	case h.version == mpegVersion1:
		return 32
	case h.mono:
		return 9
	default:
		return 17
	}
}

func parseFrameHeader(b []byte) (frameHeader, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return frameHeader{}, false
	}

	version := int(b[1]>>3) & 0x3
	layer := int(b[1]>>1) & 0x3
	bitrateIndex := int(b[2] >> 4)
	rateIndex := int(b[2]>>2) & 0x3
	if version == 1 || layer != layerIII || rateIndex == 3 {
		return frameHeader{}, false
	}

	bitrate := layer3Bitrates[version == mpegVersion1][bitrateIndex]
	if bitrate <= 0 {
		return frameHeader{}, false
	}

	return frameHeader{
		version:    version,
		bitrate:    bitrate,
		sampleRate: sampleRates[version][rateIndex],
		padding:    int(b[2]>>1) & 0x1,
		mono:       b[3]>>6 == 0x3,
	}, true
}

// scanMpegStream locates the first MPEG audio frame following any ID3v2 tag, and
// derives the duration of the stream. A Xing/Info header in the first frame gives
// the exact frame count (for VBR streams), otherwise the stream is assumed to be CBR.
func scanMpegStream(src Source) (*mpegStream, error) {
	size := src.Size()
	start := int64(0)

	head := make([]byte, id3v2HeaderLength)
	if _, err := src.ReadAt(head, 0); err != nil {
		return nil, fail(MP3, err, "file too short")
	}
	if string(head[:3]) == "ID3" {
		tagSize := int64(head[6]&0x7F)<<21 | int64(head[7]&0x7F)<<14 | int64(head[8]&0x7F)<<7 | int64(head[9]&0x7F)
		start = id3v2HeaderLength + tagSize
		if head[5]&0x10 != 0 {
			start += id3v2HeaderLength
		}
	}
	if start >= size {
		return nil, fail(MP3, nil, "ID3v2 tag extends beyond end of file")
	}

	end := size
	trailer := make([]byte, 3)
	if size-id3v1Length > start {
		if _, err := src.ReadAt(trailer, size-id3v1Length); err == nil && string(trailer) == "TAG" {
			end -= id3v1Length
		}
	}

	window := make([]byte, min(syncScanLimit, end-start))
	n, err := src.ReadAt(window, start)
	if n == 0 {
		return nil, fail(MP3, err, "unable to read audio stream")
	}
	window = window[:n]

	for i := 0; i+4 <= len(window); i++ {
		header, ok := parseFrameHeader(window[i:])
		if !ok {
			continue
		}

		// Confirm the sync by checking that another frame header directly follows
		// this one, if the next frame is within the window.
		next := i + header.length()
		if next+4 <= len(window) {
			if _, ok := parseFrameHeader(window[next:]); !ok {
				continue
			}
		}

		audioStart := start + int64(i)
		if frames, ok := xingFrameCount(window[i:], header); ok && frames > 0 {
			samples := uint64(frames) * uint64(header.samplesPerFrame())
			duration := sampleDuration(samples, uint64(header.sampleRate))
			return &mpegStream{duration: duration, bitrate: averageBitrate(end-audioStart, duration)}, nil
		}

		duration := time.Duration((end-audioStart)*8*1000/int64(header.bitrate)) * time.Microsecond
		return &mpegStream{duration: duration, bitrate: header.bitrate}, nil
	}

	return nil, fail(MP3, nil, "no MPEG audio frame found")
}

func xingFrameCount(frame []byte, header frameHeader) (uint32, bool) {
	offset := 4 + header.sideInfoLength()
	if len(frame) < offset+12 {
		return 0, false
	}

	marker := string(frame[offset : offset+4])
	if marker != "Xing" && marker != "Info" {
		return 0, false
	}

	flags := binary.BigEndian.Uint32(frame[offset+4 : offset+8])
	if flags&0x1 == 0 {
		return 0, false
	}

	return binary.BigEndian.Uint32(frame[offset+8 : offset+12]), true
}

func averageBitrate(audioBytes int64, duration time.Duration) int {
	if duration <= 0 {
		return 0
	}

	return int(float64(audioBytes*8) / duration.Seconds() / 1000)
}
