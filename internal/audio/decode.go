package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupportedFormat is returned for audio Decode cannot turn into PCM.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decode converts a WAV or MP3 stream to 16-bit PCM.
func Decode(data []byte) (PCM, error) {
	formats := Probe(data)
	if len(formats) == 0 {
		return PCM{}, ErrUnsupportedFormat
	}

	switch formats[0].MIME {
	case MIMERaw:
		return decodeWAV(data)
	case MIMEMPEG:
		return decodeMP3(data)
	default:
		return PCM{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, formats[0].MIME)
	}
}

// Prepare decodes data and converts it to the given device format.
func Prepare(data []byte, sampleRate, channels int) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, errors.New("audio data is empty")
	}
	pcm, err := Decode(data)
	if err != nil {
		return PCM{}, err
	}
	pcm, err = Convert(pcm, sampleRate, channels)
	if err != nil {
		return PCM{}, fmt.Errorf("failed to convert audio: %w", err)
	}
	return pcm, nil
}

func decodeWAV(data []byte) (PCM, error) {
	info, ok := parseWAV(data)
	if !ok {
		return PCM{}, errors.New("malformed WAV header")
	}
	if info.channels <= 0 {
		return PCM{}, fmt.Errorf("invalid WAV channel count %d", info.channels)
	}

	format := info.format
	if format == wavFormatExtensible {
		// The sub-format GUID is almost always PCM or float with the
		// sample width deciding which.
		format = wavFormatPCM
		if info.bitDepth == 32 {
			format = wavFormatFloat
		}
	}

	var samples []int16
	switch {
	case format == wavFormatPCM && info.bitDepth == 16:
		return PCM{
			Data:       info.data[:len(info.data)/2*2],
			SampleRate: info.sampleRate,
			Channels:   info.channels,
		}, nil
	case format == wavFormatPCM && info.bitDepth == 8:
		samples = make([]int16, len(info.data))
		for i, b := range info.data {
			samples[i] = int16(int(b)-128) << 8
		}
	case format == wavFormatPCM && info.bitDepth == 24:
		samples = make([]int16, len(info.data)/3)
		for i := range samples {
			samples[i] = int16(uint16(info.data[3*i+1]) | uint16(info.data[3*i+2])<<8)
		}
	case format == wavFormatFloat && info.bitDepth == 32:
		samples = make([]int16, len(info.data)/4)
		for i := range samples {
			f := math.Float32frombits(binary.LittleEndian.Uint32(info.data[4*i:]))
			f = max(-1, min(1, f))
			samples[i] = int16(f * math.MaxInt16)
		}
	default:
		return PCM{}, fmt.Errorf("%w: WAV format %d with %d bits", ErrUnsupportedFormat, info.format, info.bitDepth)
	}

	frames := len(samples) / info.channels
	return fromSamples(samples[:frames*info.channels], info.sampleRate, info.channels), nil
}

func decodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("failed to open MP3 stream: %w", err)
	}

	// go-mp3 always produces 16-bit stereo.
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("failed to decode MP3 stream: %w", err)
	}
	return PCM{
		Data:       pcm[:len(pcm)/4*4],
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}
