package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockPlayer implements AudioPlayer without touching an audio device. It
// records every clip and simulates playback for a configurable duration.
type MockPlayer struct {
	mu        sync.Mutex
	state     PlayerState
	clips     [][]byte
	volume    float64
	duration  time.Duration
	startTime time.Time
	pausedAt  time.Duration
	timer     *time.Timer

	// PlayErr, when set, is returned by Play.
	PlayErr error

	callbacks MockCallbacks

	playCount  atomic.Int64
	stopCount  atomic.Int64
	closeCount atomic.Int64
}

// MockCallbacks provides hooks for testing.
type MockCallbacks struct {
	OnPlay  func(data []byte)
	OnStop  func()
	OnClose func()
}

// MockPlayerMetrics counts calls made on a MockPlayer.
type MockPlayerMetrics struct {
	Plays  int64
	Stops  int64
	Closes int64
}

// NewMockPlayer creates a mock player whose clips "play" for duration.
// A zero duration means clips play until stopped.
func NewMockPlayer(duration time.Duration, callbacks MockCallbacks) *MockPlayer {
	return &MockPlayer{
		state:     StateStopped,
		volume:    1.0,
		duration:  duration,
		callbacks: callbacks,
	}
}

// Play records data and enters the playing state.
func (mp *MockPlayer) Play(data []byte) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state == StateClosed {
		return ErrPlayerClosed
	}
	if len(data) == 0 {
		return errors.New("audio data is empty")
	}
	if mp.PlayErr != nil {
		return mp.PlayErr
	}

	mp.stopLocked()

	clip := make([]byte, len(data))
	copy(clip, data)
	mp.clips = append(mp.clips, clip)
	mp.state = StatePlaying
	mp.startTime = time.Now()
	mp.pausedAt = 0
	if mp.duration > 0 {
		mp.timer = time.AfterFunc(mp.duration, mp.finish)
	}
	mp.playCount.Add(1)

	if mp.callbacks.OnPlay != nil {
		mp.callbacks.OnPlay(clip)
	}
	return nil
}

func (mp *MockPlayer) finish() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.state == StatePlaying {
		mp.state = StateStopped
	}
}

// Pause pauses the current playback.
func (mp *MockPlayer) Pause() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state != StatePlaying {
		return fmt.Errorf("cannot pause: player is %s", mp.state)
	}
	if mp.timer != nil {
		mp.timer.Stop()
	}
	mp.pausedAt = time.Since(mp.startTime)
	mp.state = StatePaused
	return nil
}

// Resume resumes paused playback.
func (mp *MockPlayer) Resume() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state != StatePaused {
		return fmt.Errorf("cannot resume: player is %s", mp.state)
	}
	mp.startTime = time.Now().Add(-mp.pausedAt)
	if mp.duration > 0 {
		mp.timer = time.AfterFunc(max(mp.duration-mp.pausedAt, 0), mp.finish)
	}
	mp.state = StatePlaying
	return nil
}

// Stop halts playback.
func (mp *MockPlayer) Stop() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.stopLocked()
	mp.stopCount.Add(1)
	if mp.callbacks.OnStop != nil {
		mp.callbacks.OnStop()
	}
	return nil
}

func (mp *MockPlayer) stopLocked() {
	if mp.timer != nil {
		mp.timer.Stop()
		mp.timer = nil
	}
	if mp.state != StateClosed {
		mp.state = StateStopped
	}
	mp.pausedAt = 0
}

// IsPlaying returns whether a clip is playing.
func (mp *MockPlayer) IsPlaying() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state == StatePlaying
}

// Position returns the simulated playback position.
func (mp *MockPlayer) Position() time.Duration {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	switch mp.state {
	case StatePlaying:
		pos := time.Since(mp.startTime)
		if mp.duration > 0 {
			pos = min(pos, mp.duration)
		}
		return pos
	case StatePaused:
		return mp.pausedAt
	default:
		return 0
	}
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (mp *MockPlayer) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}
	mp.mu.Lock()
	mp.volume = volume
	mp.mu.Unlock()
	return nil
}

// Volume returns the last volume set.
func (mp *MockPlayer) Volume() float64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.volume
}

// Close stops playback and marks the player closed.
func (mp *MockPlayer) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.stopLocked()
	mp.state = StateClosed
	mp.closeCount.Add(1)
	if mp.callbacks.OnClose != nil {
		mp.callbacks.OnClose()
	}
	return nil
}

// State returns the current player state.
func (mp *MockPlayer) State() PlayerState {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state
}

// Clips returns copies of every clip passed to Play, oldest first.
func (mp *MockPlayer) Clips() [][]byte {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	out := make([][]byte, len(mp.clips))
	for i, c := range mp.clips {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

// Metrics returns call counters.
func (mp *MockPlayer) Metrics() MockPlayerMetrics {
	return MockPlayerMetrics{
		Plays:  mp.playCount.Load(),
		Stops:  mp.stopCount.Load(),
		Closes: mp.closeCount.Load(),
	}
}

// WaitForCompletion blocks until the current clip stops or timeout passes.
func (mp *MockPlayer) WaitForCompletion(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !mp.IsPlaying() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return !mp.IsPlaying()
}
