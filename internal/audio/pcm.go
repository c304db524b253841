package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// PCM is interleaved signed 16-bit little endian audio.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// frameSize is the number of bytes per sample frame (all channels).
func (p PCM) frameSize() int {
	return 2 * p.Channels
}

// Frames returns the number of sample frames.
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Data) / p.frameSize()
}

// Duration returns the playback length.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

func (p PCM) samples() []int16 {
	out := make([]int16, len(p.Data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(p.Data[2*i:]))
	}
	return out
}

func fromSamples(samples []int16, sampleRate, channels int) PCM {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return PCM{Data: data, SampleRate: sampleRate, Channels: channels}
}

// Convert returns p at the given sample rate and channel count. Channels are
// averaged down or duplicated up; the rate is changed by linear interpolation,
// which is good enough for speech.
func Convert(p PCM, sampleRate, channels int) (PCM, error) {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return PCM{}, fmt.Errorf("invalid source format: %d Hz, %d channels", p.SampleRate, p.Channels)
	}
	if sampleRate <= 0 || channels <= 0 {
		return PCM{}, fmt.Errorf("invalid target format: %d Hz, %d channels", sampleRate, channels)
	}
	if len(p.Data)%p.frameSize() != 0 {
		return PCM{}, errors.New("PCM data is not aligned to sample frames")
	}
	if p.SampleRate == sampleRate && p.Channels == channels {
		return p, nil
	}

	in := p.samples()
	frames := len(in) / p.Channels

	// Channel mapping first so the resampler only sees the target layout.
	mapped := make([]int16, frames*channels)
	for f := 0; f < frames; f++ {
		src := in[f*p.Channels : (f+1)*p.Channels]
		dst := mapped[f*channels : (f+1)*channels]
		switch {
		case p.Channels == channels:
			copy(dst, src)
		case channels == 1:
			var sum int
			for _, s := range src {
				sum += int(s)
			}
			dst[0] = int16(sum / len(src))
		default:
			for ch := range dst {
				dst[ch] = src[min(ch, len(src)-1)]
			}
		}
	}

	if p.SampleRate == sampleRate {
		return fromSamples(mapped, sampleRate, channels), nil
	}

	ratio := float64(sampleRate) / float64(p.SampleRate)
	outFrames := int(float64(frames) * ratio)
	out := make([]int16, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) / ratio
		idx := int(pos)
		frac := pos - float64(idx)
		for ch := 0; ch < channels; ch++ {
			if idx >= frames-1 {
				out[i*channels+ch] = mapped[(frames-1)*channels+ch]
				continue
			}
			a := float64(mapped[idx*channels+ch])
			b := float64(mapped[(idx+1)*channels+ch])
			out[i*channels+ch] = int16(a*(1-frac) + b*frac)
		}
	}
	return fromSamples(out, sampleRate, channels), nil
}

// EncodeWAV wraps p in a canonical 44-byte WAV header.
func EncodeWAV(p PCM) []byte {
	out := make([]byte, 44+len(p.Data))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(p.Data)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], uint16(p.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(p.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(p.SampleRate*p.frameSize()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(p.frameSize()))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(p.Data)))
	copy(out[44:], p.Data)
	return out
}
