package audio

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// AudioPlayer plays encoded audio (WAV or MP3) one clip at a time.
type AudioPlayer interface {
	// Play stops the current clip, if any, and starts data.
	Play(data []byte) error

	// Pause pauses the current playback.
	Pause() error

	// Resume resumes paused playback.
	Resume() error

	// Stop halts playback. Stopping an idle player is not an error.
	Stop() error

	// IsPlaying returns whether audio is currently audible.
	IsPlaying() bool

	// Position returns the playback position of the current clip.
	Position() time.Duration

	// SetVolume sets the playback volume (0.0 to 1.0).
	SetVolume(volume float64) error

	// Close releases the player. A closed player rejects Play.
	Close() error
}

// PCMPlayer is a player that also takes audio already decoded and converted
// to its device format, so Play's decoding can happen on another goroutine.
type PCMPlayer interface {
	AudioPlayer
	// Format is the device sample rate and channel count PlayPCM expects.
	Format() (sampleRate, channels int)
	PlayPCM(pcm PCM) error
}

var _ PCMPlayer = (*Player)(nil)

// PlayerState represents the current state of a player.
type PlayerState int32

const (
	StateStopped PlayerState = iota
	StatePlaying
	StatePaused
	StateClosed
)

// String returns the state name.
func (s PlayerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrPlayerClosed is returned when using a closed player.
var ErrPlayerClosed = errors.New("player is closed")

// PlayerConfig contains configuration for the audio output device.
type PlayerConfig struct {
	SampleRate int // 44100 or 48000 Hz only
	Channels   int // 1 = mono, 2 = stereo
	BitDepth   int // 16 bits per sample
	BufferSize int // bytes buffered by the device
}

// DefaultPlayerConfig returns the default output configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate: 44100,
		Channels:   2,
		BitDepth:   16,
		BufferSize: 8192,
	}
}

func validateConfig(config PlayerConfig) error {
	// oto only supports these rates reliably across backends
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}
	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}
	if config.BitDepth != 16 {
		return fmt.Errorf("bit depth must be 16, got %d", config.BitDepth)
	}
	if config.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	return nil
}

// oto allows a single context per process; every Player shares it.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoCfg  PlayerConfig
	otoErr  error
)

func sharedContext(config PlayerConfig) (*oto.Context, PlayerConfig, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   config.SampleRate,
			ChannelCount: config.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(config.BufferSize) * time.Second / time.Duration(config.SampleRate*config.Channels*2),
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		otoCtx, otoCfg = ctx, config
	})
	return otoCtx, otoCfg, otoErr
}

// Player plays audio through the system output device.
type Player struct {
	context *oto.Context
	config  PlayerConfig

	mu        sync.Mutex
	player    *oto.Player
	clip      []byte // keeps the PCM alive while oto reads it
	duration  time.Duration
	startTime time.Time
	pausedAt  time.Duration
	paused    time.Duration

	state  atomic.Int32
	volume atomic.Uint64 // volume * 1e6
}

// NewPlayer opens the output device. If another Player already opened it,
// the existing device configuration wins.
func NewPlayer(config PlayerConfig) (*Player, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, actual, err := sharedContext(config)
	if err != nil {
		return nil, err
	}

	p := &Player{context: ctx, config: actual}
	p.state.Store(int32(StateStopped))
	p.volume.Store(1_000_000)
	return p, nil
}

// Play decodes data, converts it to the device format and starts playback.
func (p *Player) Play(data []byte) error {
	if len(data) == 0 {
		return errors.New("audio data is empty")
	}
	if p.State() == StateClosed {
		return ErrPlayerClosed
	}

	pcm, err := Prepare(data, p.config.SampleRate, p.config.Channels)
	if err != nil {
		return err
	}
	return p.PlayPCM(pcm)
}

// Format returns the device sample rate and channel count.
func (p *Player) Format() (sampleRate, channels int) {
	return p.config.SampleRate, p.config.Channels
}

// PlayPCM starts playback of PCM already in the device format.
func (p *Player) PlayPCM(pcm PCM) error {
	if pcm.SampleRate != p.config.SampleRate || pcm.Channels != p.config.Channels {
		return fmt.Errorf("PCM format %d Hz/%d ch does not match device %d Hz/%d ch",
			pcm.SampleRate, pcm.Channels, p.config.SampleRate, p.config.Channels)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if PlayerState(p.state.Load()) == StateClosed {
		return ErrPlayerClosed
	}
	p.stopLocked()

	clip := make([]byte, len(pcm.Data))
	copy(clip, pcm.Data)

	player := p.context.NewPlayer(bytes.NewReader(clip))
	player.SetVolume(p.getVolume())

	p.player = player
	p.clip = clip
	p.duration = pcm.Duration()
	p.startTime = time.Now()
	p.pausedAt = 0
	p.paused = 0

	player.Play()
	p.state.Store(int32(StatePlaying))

	log.Debug("Playback started", "bytes", len(clip), "duration", p.duration)
	return nil
}

// Pause pauses the current playback.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state := PlayerState(p.state.Load()); state != StatePlaying {
		return fmt.Errorf("cannot pause: player is %s", state)
	}
	p.player.Pause()
	p.pausedAt = p.positionLocked()
	p.state.Store(int32(StatePaused))
	return nil
}

// Resume resumes paused playback.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state := PlayerState(p.state.Load()); state != StatePaused {
		return fmt.Errorf("cannot resume: player is %s", state)
	}
	p.player.Play()
	p.paused += time.Since(p.startTime.Add(p.pausedAt + p.paused))
	p.state.Store(int32(StatePlaying))
	return nil
}

// Stop halts playback and drops the current clip.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	if p.player != nil {
		p.player.Pause()
		if err := p.player.Close(); err != nil {
			log.Debug("Closing oto player failed", "error", err)
		}
		p.player = nil
	}
	p.clip = nil
	p.duration = 0
	if PlayerState(p.state.Load()) != StateClosed {
		p.state.Store(int32(StateStopped))
	}
}

// IsPlaying returns whether audio is currently audible. A clip that ran to
// its end counts as stopped.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if PlayerState(p.state.Load()) != StatePlaying || p.player == nil {
		return false
	}
	if !p.player.IsPlaying() {
		p.stopLocked()
		return false
	}
	return true
}

// Position returns the playback position of the current clip.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() time.Duration {
	switch PlayerState(p.state.Load()) {
	case StatePlaying:
		return min(time.Since(p.startTime)-p.paused, p.duration)
	case StatePaused:
		return p.pausedAt
	default:
		return 0
	}
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (p *Player) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}
	p.volume.Store(uint64(volume * 1_000_000))

	p.mu.Lock()
	if p.player != nil {
		p.player.SetVolume(volume)
	}
	p.mu.Unlock()
	return nil
}

func (p *Player) getVolume() float64 {
	return float64(p.volume.Load()) / 1_000_000
}

// Close stops playback and marks the player unusable. The shared device
// stays open for the life of the process.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.state.Store(int32(StateClosed))
	return nil
}

// State returns the current player state.
func (p *Player) State() PlayerState {
	return PlayerState(p.state.Load())
}

// Config returns the device configuration in use.
func (p *Player) Config() PlayerConfig {
	return p.config
}
