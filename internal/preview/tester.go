// Package preview runs a test synthesis against an engine and plays the
// result, reporting what came back: body size, detected sample rate and
// codec, and the server's Content-Type.
package preview

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/jing332/tts-server-go/internal/audio"
	"github.com/jing332/tts-server-go/internal/httptts"
)

// Messages passed to failure callbacks and placeholders for unknown values.
const (
	ServerErrorPrefix = "服务器返回错误信息：\n"
	EmptyAudio        = "音频为空"
	Unknown           = "无"
)

// Source produces the raw engine response for a text.
type Source interface {
	AudioResponse(ctx context.Context, text string) (*httptts.Response, error)
}

// PlayerFactory builds the player on first use.
type PlayerFactory func() (audio.AudioPlayer, error)

// Result describes a successful test.
type Result struct {
	Size        int
	SampleRate  int
	MIME        string
	ContentType string
}

func (r Result) String() string {
	return fmt.Sprintf("size: %d, sample rate: %d, mime: %s, content-type: %s",
		r.Size, r.SampleRate, r.MIME, r.ContentType)
}

// Tester runs preview tests. Callbacks and playback happen through the
// dispatcher; the network round trip and decoding happen on their own
// goroutine.
type Tester struct {
	dispatch  Dispatcher
	newPlayer PlayerFactory

	// PlaybackError, if set, is called on the dispatcher when a clip that
	// was reported as a success cannot be played.
	PlaybackError func(error)

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu     sync.Mutex
	player audio.AudioPlayer
}

// NewTester creates a tester. The player is not built until the first
// successful test.
func NewTester(d Dispatcher, newPlayer PlayerFactory) *Tester {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tester{
		dispatch:  d,
		newPlayer: newPlayer,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// DoTest requests audio for text from src. Exactly one of onSuccess and
// onFailure is called, on the dispatcher, unless the tester is closed
// first. On success the audio then starts playing, replacing any clip
// already playing.
func (t *Tester) DoTest(
	ctx context.Context,
	src Source,
	text string,
	onSuccess func(size, sampleRate int, mime, contentType string),
	onFailure func(reason string),
) {
	if t.closed.Load() {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.ctx, cancel)

	fail := func(reason string) {
		t.post(func() { onFailure(reason) })
	}

	go func() {
		defer cancel()
		defer stop()
		defer func() {
			if r := recover(); r != nil {
				log.Error("Preview test panicked", "panic", r)
				fail(fmt.Sprint(r))
			}
		}()

		res, body, reason, err := fetch(ctx, src, text)
		switch {
		case err != nil:
			fail(MessageChain(err))
		case reason != "":
			fail(reason)
		default:
			c := t.prepare(body)
			t.post(func() {
				onSuccess(res.Size, res.SampleRate, res.MIME, res.ContentType)
				t.play(c)
			})
		}
	}()
}

// fetch performs the request and inspects the response. A non-empty
// reason is a failure that is not an error of the call itself.
func fetch(ctx context.Context, src Source, text string) (Result, []byte, string, error) {
	resp, err := src.AudioResponse(ctx, text)
	if err != nil {
		return Result{}, nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, nil, ServerErrorPrefix + resp.Text(), nil
	}
	if len(resp.Body) == 0 {
		return Result{}, nil, EmptyAudio, nil
	}

	res := Result{
		Size:        len(resp.Body),
		SampleRate:  0,
		MIME:        Unknown,
		ContentType: resp.ContentType(),
	}
	if res.ContentType == "" {
		res.ContentType = Unknown
	}
	if formats := audio.Probe(resp.Body); len(formats) > 0 {
		res.SampleRate = formats[0].SampleRate
		res.MIME = formats[0].MIME
	}
	return res, resp.Body, "", nil
}

// post runs fn on the dispatcher unless the tester has been closed by then.
func (t *Tester) post(fn func()) {
	if t.closed.Load() {
		return
	}
	t.dispatch.Post(func() {
		if t.closed.Load() {
			return
		}
		fn()
	})
}

// clip is a response body ready for the player: decoded when the player
// takes PCM, raw otherwise.
type clip struct {
	body []byte
	pcm  *audio.PCM
	err  error
}

// prepare builds the player on first use and decodes body for it if it
// accepts PCM.
func (t *Tester) prepare(body []byte) clip {
	c := clip{body: body}

	t.mu.Lock()
	p, err := t.playerLocked()
	t.mu.Unlock()
	if err != nil {
		c.err = err
		return c
	}
	pp, ok := p.(audio.PCMPlayer)
	if !ok {
		return c
	}

	rate, channels := pp.Format()
	pcm, err := audio.Prepare(body, rate, channels)
	if err != nil {
		c.err = err
		return c
	}
	c.pcm = &pcm
	return c
}

func (t *Tester) play(c clip) {
	if err := t.startPlayback(c); err != nil {
		log.Warn("Preview playback failed", "error", err)
		if t.PlaybackError != nil {
			t.PlaybackError(err)
		}
	}
}

// playerLocked returns the player, building it if needed. It returns nil
// once the tester is closed.
func (t *Tester) playerLocked() (audio.AudioPlayer, error) {
	if t.closed.Load() {
		return nil, nil
	}
	if t.player == nil {
		p, err := t.newPlayer()
		if err != nil {
			return nil, fmt.Errorf("failed to create audio player: %w", err)
		}
		t.player = p
	}
	return t.player, nil
}

func (t *Tester) startPlayback(c clip) error {
	if c.err != nil {
		return c.err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.playerLocked()
	if err != nil || p == nil {
		return err
	}
	_ = p.Stop()
	if pp, ok := p.(audio.PCMPlayer); ok && c.pcm != nil {
		return pp.PlayPCM(*c.pcm)
	}
	return p.Play(c.body)
}

// StopPlay stops playback. It is safe to call at any time, including
// before anything was played.
func (t *Tester) StopPlay() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.player != nil {
		_ = t.player.Stop()
	}
}

// Playing reports whether a clip is playing.
func (t *Tester) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.player != nil && t.player.IsPlaying()
}

// Close cancels running tests, drops their pending callbacks and releases
// the player if one was built. Later calls do nothing.
func (t *Tester) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.player == nil {
		return nil
	}
	err := t.player.Close()
	t.player = nil
	return err
}
