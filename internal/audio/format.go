package audio

import (
	"bytes"
	"encoding/binary"

	"github.com/hajimehoshi/go-mp3"
)

// MIME types reported by Probe.
const (
	MIMERaw    = "audio/raw"
	MIMEMPEG   = "audio/mpeg"
	MIMEAAC    = "audio/mp4a-latm"
	MIMEVorbis = "audio/vorbis"
	MIMEOpus   = "audio/opus"
	MIMEFLAC   = "audio/flac"
)

// Format describes one audio track found in a byte stream.
type Format struct {
	MIME       string
	SampleRate int
	Channels   int
	BitDepth   int // 0 when the codec has no fixed sample width
}

// Probe returns the tracks it recognizes in data. An unknown or truncated
// stream yields an empty slice, never an error.
func Probe(data []byte) []Format {
	for _, probe := range []func([]byte) (Format, bool){
		probeWAV,
		probeOgg,
		probeFLAC,
		probeMP3,
		probeADTS,
	} {
		if f, ok := probe(data); ok {
			return []Format{f}
		}
	}
	return nil
}

// wavInfo is the parsed "fmt " chunk plus the location of the "data" chunk.
type wavInfo struct {
	format     uint16
	channels   int
	sampleRate int
	bitDepth   int
	data       []byte
}

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

func parseWAV(data []byte) (wavInfo, bool) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return wavInfo{}, false
	}

	var info wavInfo
	var haveFmt bool
	pos := 12
	for pos+8 <= len(data) {
		id := data[pos : pos+4]
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if size < 0 || end > len(data) {
			// Streaming encoders often write a bogus size for the data chunk.
			end = len(data)
		}

		switch {
		case bytes.Equal(id, []byte("fmt ")):
			if end-body < 16 {
				return wavInfo{}, false
			}
			chunk := data[body:end]
			info.format = binary.LittleEndian.Uint16(chunk[0:2])
			info.channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			info.sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			info.bitDepth = int(binary.LittleEndian.Uint16(chunk[14:16]))
			haveFmt = true
		case bytes.Equal(id, []byte("data")):
			info.data = data[body:end]
			return info, haveFmt
		}

		// Chunks are word aligned.
		pos = end + size%2
	}
	return info, haveFmt
}

func probeWAV(data []byte) (Format, bool) {
	info, ok := parseWAV(data)
	if !ok || info.sampleRate == 0 {
		return Format{}, false
	}
	return Format{
		MIME:       MIMERaw,
		SampleRate: info.sampleRate,
		Channels:   info.channels,
		BitDepth:   info.bitDepth,
	}, true
}

func probeOgg(data []byte) (Format, bool) {
	if len(data) < 27 || !bytes.Equal(data[0:4], []byte("OggS")) {
		return Format{}, false
	}
	segments := int(data[26])
	start := 27 + segments
	if start > len(data) {
		return Format{}, false
	}
	packet := data[start:]

	switch {
	case len(packet) >= 16 && packet[0] == 0x01 && bytes.Equal(packet[1:7], []byte("vorbis")):
		return Format{
			MIME:       MIMEVorbis,
			Channels:   int(packet[11]),
			SampleRate: int(binary.LittleEndian.Uint32(packet[12:16])),
		}, true
	case len(packet) >= 16 && bytes.Equal(packet[0:8], []byte("OpusHead")):
		// Opus always decodes at 48 kHz; the header field is the input rate.
		return Format{
			MIME:       MIMEOpus,
			Channels:   int(packet[9]),
			SampleRate: 48000,
		}, true
	}
	return Format{}, false
}

var (
	mp3SampleRates = [4][3]int{
		{11025, 12000, 8000},  // MPEG 2.5
		{0, 0, 0},             // reserved
		{22050, 24000, 16000}, // MPEG 2
		{44100, 48000, 32000}, // MPEG 1
	}
	mp3BitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mp3BitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
)

// mp3Header is a decoded MPEG audio layer III frame header.
type mp3Header struct {
	version    int
	sampleRate int
	channels   int
	frameLen   int
}

func parseMP3Header(b []byte) (mp3Header, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return mp3Header{}, false
	}
	version := int(b[1]>>3) & 0x03
	layer := int(b[1]>>1) & 0x03
	bitrateIdx := int(b[2]>>4) & 0x0F
	rateIdx := int(b[2]>>2) & 0x03
	padding := int(b[2]>>1) & 0x01
	mode := int(b[3]>>6) & 0x03

	// Layer III only, no free-format or reserved values.
	if version == 1 || layer != 1 || rateIdx == 3 || bitrateIdx == 0 || bitrateIdx == 15 {
		return mp3Header{}, false
	}

	sampleRate := mp3SampleRates[version][rateIdx]
	var frameLen int
	if version == 3 {
		frameLen = 144*mp3BitratesV1[bitrateIdx]*1000/sampleRate + padding
	} else {
		frameLen = 72*mp3BitratesV2[bitrateIdx]*1000/sampleRate + padding
	}

	channels := 2
	if mode == 3 {
		channels = 1
	}
	return mp3Header{version: version, sampleRate: sampleRate, channels: channels, frameLen: frameLen}, true
}

// id3Size returns the length of a leading ID3v2 tag, or 0.
func id3Size(data []byte) int {
	if len(data) < 10 || !bytes.Equal(data[0:3], []byte("ID3")) {
		return 0
	}
	size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	size += 10
	if data[5]&0x10 != 0 {
		size += 10
	}
	return size
}

const mp3SearchLimit = 64 * 1024

// syncMP3 finds the first plausible layer III frame in data.
func syncMP3(data []byte) (int, mp3Header, bool) {
	start := id3Size(data)
	if start >= len(data) {
		return 0, mp3Header{}, false
	}

	limit := min(len(data)-4, start+mp3SearchLimit)
	for pos := start; pos <= limit; pos++ {
		h, ok := parseMP3Header(data[pos:])
		if !ok {
			continue
		}
		// Away from the stream start a lone sync word is weak evidence;
		// require the following frame to line up.
		if pos != start {
			next, ok := parseMP3Header(data[min(pos+h.frameLen, len(data)):])
			if !ok || next.version != h.version || next.sampleRate != h.sampleRate {
				continue
			}
		}
		return pos, h, true
	}
	return 0, mp3Header{}, false
}

func probeMP3(data []byte) (Format, bool) {
	pos, h, ok := syncMP3(data)
	if !ok {
		return Format{}, false
	}
	// The decoder has the final word: a stream it cannot open is not
	// reported as MPEG audio.
	dec, err := mp3.NewDecoder(bytes.NewReader(data[pos:]))
	if err != nil {
		return Format{}, false
	}
	return Format{MIME: MIMEMPEG, SampleRate: dec.SampleRate(), Channels: h.channels}, true
}

// probeFLAC reads the STREAMINFO block, which is always the first metadata
// block after the "fLaC" marker.
func probeFLAC(data []byte) (Format, bool) {
	data = data[min(id3Size(data), len(data)):]
	if len(data) < 8+18 || !bytes.Equal(data[0:4], []byte("fLaC")) || data[4]&0x7F != 0 {
		return Format{}, false
	}
	info := data[8:]
	// 20 bits of sample rate, 3 bits of channels-1, 5 bits of bits-1.
	sampleRate := int(info[10])<<12 | int(info[11])<<4 | int(info[12])>>4
	if sampleRate == 0 {
		return Format{}, false
	}
	return Format{
		MIME:       MIMEFLAC,
		SampleRate: sampleRate,
		Channels:   int(info[12]>>1&0x07) + 1,
		BitDepth:   int(info[12]&0x01)<<4 | int(info[13]>>4) + 1,
	}, true
}

var adtsSampleRates = [...]int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

func probeADTS(data []byte) (Format, bool) {
	data = data[min(id3Size(data), len(data)):]
	if len(data) < 7 || data[0] != 0xFF || data[1]&0xF6 != 0xF0 {
		return Format{}, false
	}
	rateIdx := int(data[2]>>2) & 0x0F
	if rateIdx >= len(adtsSampleRates) {
		return Format{}, false
	}
	channels := int(data[2]&0x01)<<2 | int(data[3]>>6)
	return Format{MIME: MIMEAAC, SampleRate: adtsSampleRates[rateIdx], Channels: channels}, true
}
