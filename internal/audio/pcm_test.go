package audio

import (
	"testing"
	"time"
)

func TestConvertChannels(t *testing.T) {
	stereo := fromSamples([]int16{100, 300, -50, 50}, 44100, 2)

	mono, err := Convert(stereo, 44100, 1)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	got := mono.samples()
	want := []int16{200, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mono sample %d = %d, want %d", i, got[i], want[i])
		}
	}

	back, err := Convert(mono, 44100, 2)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	got = back.samples()
	want = []int16{200, 200, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stereo sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConvertResample(t *testing.T) {
	in := fromSamples([]int16{0, 1000, 2000, 3000}, 22050, 1)

	out, err := Convert(in, 44100, 1)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if out.Frames() != 8 {
		t.Fatalf("expected 8 frames, got %d", out.Frames())
	}
	got := out.samples()
	// Every other output sample is interpolated halfway.
	want := []int16{0, 500, 1000, 1500, 2000, 2500, 3000, 3000}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
	if in.Duration() != out.Duration() {
		t.Errorf("duration changed: %v -> %v", in.Duration(), out.Duration())
	}
}

func TestConvertNoop(t *testing.T) {
	in := fromSamples([]int16{1, 2}, 48000, 2)
	out, err := Convert(in, 48000, 2)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if &out.Data[0] != &in.Data[0] {
		t.Error("expected identical format to return the input")
	}
}

func TestConvertErrors(t *testing.T) {
	if _, err := Convert(PCM{Data: []byte{1, 2, 3}, SampleRate: 8000, Channels: 1}, 44100, 1); err == nil {
		t.Error("expected error for misaligned data")
	}
	if _, err := Convert(PCM{SampleRate: 0, Channels: 1}, 44100, 1); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := Convert(PCM{SampleRate: 8000, Channels: 1}, 44100, 0); err == nil {
		t.Error("expected error for zero target channels")
	}
}

func TestPCMDuration(t *testing.T) {
	p := PCM{Data: make([]byte, 44100*2*2), SampleRate: 44100, Channels: 2}
	if p.Duration() != time.Second {
		t.Errorf("expected 1s, got %v", p.Duration())
	}
	if (PCM{}).Duration() != 0 {
		t.Error("expected zero duration for empty PCM")
	}
}
