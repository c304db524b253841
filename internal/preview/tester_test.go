package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jing332/tts-server-go/internal/audio"
	"github.com/jing332/tts-server-go/internal/httptts"
)

type fakeSource struct {
	resp  *httptts.Response
	err   error
	panic any
	block bool
}

func (f *fakeSource) AudioResponse(ctx context.Context, text string) (*httptts.Response, error) {
	if f.panic != nil {
		panic(f.panic)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func response(status int, contentType string, body []byte) *httptts.Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &httptts.Response{StatusCode: status, Header: h, Body: body}
}

type outcome struct {
	success bool
	result  Result
	reason  string
}

// harness wires a Tester to a Loop and a mock player and records callbacks.
type harness struct {
	t        *testing.T
	tester   *Tester
	loop     *Loop
	player   *audio.MockPlayer
	created  atomic.Int32
	outcomes chan outcome
	calls    atomic.Int32
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:        t,
		loop:     NewLoop(),
		player:   audio.NewMockPlayer(0, audio.MockCallbacks{}),
		outcomes: make(chan outcome, 4),
	}
	h.tester = NewTester(h.loop, func() (audio.AudioPlayer, error) {
		h.created.Add(1)
		return h.player, nil
	})
	t.Cleanup(func() {
		_ = h.tester.Close()
		h.loop.Close()
	})
	return h
}

func (h *harness) run(src Source) {
	h.tester.DoTest(context.Background(), src, "hello",
		func(size, sampleRate int, mime, contentType string) {
			h.calls.Add(1)
			h.outcomes <- outcome{success: true, result: Result{size, sampleRate, mime, contentType}}
		},
		func(reason string) {
			h.calls.Add(1)
			h.outcomes <- outcome{reason: reason}
		},
	)
}

func (h *harness) wait() outcome {
	h.t.Helper()
	select {
	case o := <-h.outcomes:
		// Give a stray second callback the chance to show up.
		time.Sleep(20 * time.Millisecond)
		if n := h.calls.Load(); n != 1 {
			h.t.Errorf("expected exactly one callback, got %d", n)
		}
		return o
	case <-time.After(5 * time.Second):
		h.t.Fatal("no callback")
		return outcome{}
	}
}

func TestDoTestSuccess(t *testing.T) {
	h := newHarness(t)
	wav := audio.EncodeWAV(audio.PCM{Data: make([]byte, 3200), SampleRate: 16000, Channels: 1})

	h.run(&fakeSource{resp: response(http.StatusOK, "audio/wav", wav)})
	o := h.wait()

	if !o.success {
		t.Fatalf("expected success, got failure %q", o.reason)
	}
	want := Result{Size: len(wav), SampleRate: 16000, MIME: audio.MIMERaw, ContentType: "audio/wav"}
	if o.result != want {
		t.Errorf("got %+v, want %+v", o.result, want)
	}

	// Playback is queued right after onSuccess on the same dispatcher.
	h.loop.Post(func() {})
	deadline := time.Now().Add(time.Second)
	for len(h.player.Clips()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	clips := h.player.Clips()
	if len(clips) != 1 || len(clips[0]) != len(wav) {
		t.Errorf("expected the body to be played once, got %d clips", len(clips))
	}
	if !h.tester.Playing() {
		t.Error("expected preview to be playing")
	}
}

func TestDoTestUnknownAudio(t *testing.T) {
	h := newHarness(t)
	body := []byte("not audio at all")

	h.run(&fakeSource{resp: response(http.StatusOK, "", body)})
	o := h.wait()

	if !o.success {
		t.Fatalf("expected success, got failure %q", o.reason)
	}
	want := Result{Size: len(body), SampleRate: 0, MIME: Unknown, ContentType: Unknown}
	if o.result != want {
		t.Errorf("got %+v, want %+v", o.result, want)
	}
}

func TestDoTestFailures(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		want string
	}{
		{
			name: "server error",
			src:  &fakeSource{resp: response(http.StatusUnauthorized, "text/plain", []byte("invalid key"))},
			want: ServerErrorPrefix + "invalid key",
		},
		{
			name: "server error without body",
			src:  &fakeSource{resp: response(http.StatusBadGateway, "", nil)},
			want: ServerErrorPrefix,
		},
		{
			name: "nil body",
			src:  &fakeSource{resp: response(http.StatusOK, "audio/mpeg", nil)},
			want: EmptyAudio,
		},
		{
			name: "empty body",
			src:  &fakeSource{resp: response(http.StatusOK, "audio/mpeg", []byte{})},
			want: EmptyAudio,
		},
		{
			name: "error chain",
			src:  &fakeSource{err: fmt.Errorf("request to edge failed: %w", errors.New("connection refused"))},
			want: "request to edge failed\nconnection refused",
		},
		{
			name: "panic",
			src:  &fakeSource{panic: "boom"},
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.run(tt.src)
			o := h.wait()
			if o.success {
				t.Fatalf("expected failure, got success %+v", o.result)
			}
			if o.reason != tt.want {
				t.Errorf("reason = %q, want %q", o.reason, tt.want)
			}
			if h.created.Load() != 0 {
				t.Error("player must not be created for a failed test")
			}
		})
	}
}

func TestDoTestOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") != "hello" {
			http.Error(w, "missing text", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/x-wav")
		_, _ = w.Write(audio.EncodeWAV(audio.PCM{Data: make([]byte, 100), SampleRate: 24000, Channels: 1}))
	}))
	defer srv.Close()

	h := newHarness(t)
	src := httptts.NewClient(httptts.ClientOptions{}).Bind(httptts.Engine{
		Name: "local",
		URL:  srv.URL + "/?text={{urlquery .Text}}",
	})
	h.run(src)
	o := h.wait()

	if !o.success {
		t.Fatalf("expected success, got %q", o.reason)
	}
	if o.result.SampleRate != 24000 || o.result.ContentType != "audio/x-wav" {
		t.Errorf("unexpected result %+v", o.result)
	}
}

func TestStopPlayWithoutPlayback(t *testing.T) {
	h := newHarness(t)

	h.tester.StopPlay()
	h.tester.StopPlay()
	if h.created.Load() != 0 {
		t.Error("StopPlay must not build a player")
	}
	if h.tester.Playing() {
		t.Error("nothing should be playing")
	}
}

func TestStopPlayAfterSuccess(t *testing.T) {
	h := newHarness(t)
	h.run(&fakeSource{resp: response(http.StatusOK, "", []byte("x"))})
	h.wait()

	done := make(chan struct{})
	h.loop.Post(func() { close(done) })
	<-done

	h.tester.StopPlay()
	if h.player.IsPlaying() {
		t.Error("player still playing after StopPlay")
	}
}

func TestCloseReleasesOnce(t *testing.T) {
	h := newHarness(t)
	h.run(&fakeSource{resp: response(http.StatusOK, "", []byte("x"))})
	h.wait()

	done := make(chan struct{})
	h.loop.Post(func() { close(done) })
	<-done

	if err := h.tester.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.tester.Close(); err != nil {
		t.Fatal(err)
	}
	if n := h.player.Metrics().Closes; n != 1 {
		t.Errorf("expected player to be closed once, got %d", n)
	}
}

func TestCloseWithoutPlayer(t *testing.T) {
	h := newHarness(t)
	if err := h.tester.Close(); err != nil {
		t.Fatal(err)
	}
	if h.created.Load() != 0 || h.player.Metrics().Closes != 0 {
		t.Error("Close must not build or release a player that was never used")
	}
}

func TestCloseCancelsRunningTest(t *testing.T) {
	h := newHarness(t)
	h.run(&fakeSource{block: true})

	time.Sleep(20 * time.Millisecond)
	_ = h.tester.Close()

	select {
	case o := <-h.outcomes:
		t.Errorf("callback after Close: %+v", o)
	case <-time.After(100 * time.Millisecond):
	}

	// Tests started after Close are ignored.
	h.run(&fakeSource{resp: response(http.StatusOK, "", []byte("x"))})
	select {
	case o := <-h.outcomes:
		t.Errorf("callback after Close: %+v", o)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallerContextCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	reasons := make(chan string, 1)
	h.tester.DoTest(ctx, &fakeSource{block: true}, "x",
		func(int, int, string, string) { t.Error("unexpected success") },
		func(reason string) { reasons <- reason },
	)
	cancel()

	select {
	case r := <-reasons:
		if !strings.Contains(r, "context canceled") {
			t.Errorf("unexpected reason %q", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no failure after caller cancelled")
	}
}

func TestPlaybackError(t *testing.T) {
	h := newHarness(t)
	h.player.PlayErr = errors.New("device busy")

	errs := make(chan error, 1)
	h.tester.PlaybackError = func(err error) { errs <- err }

	h.run(&fakeSource{resp: response(http.StatusOK, "", []byte("x"))})
	if o := h.wait(); !o.success {
		t.Fatalf("playback problems must not turn into a failure: %q", o.reason)
	}

	select {
	case err := <-errs:
		if err.Error() != "device busy" {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("PlaybackError not called")
	}
}

// pcmPlayer takes decoded audio in a fixed device format.
type pcmPlayer struct {
	*audio.MockPlayer
	rate, channels int
	got            chan audio.PCM
}

func (p *pcmPlayer) Format() (int, int) { return p.rate, p.channels }

func (p *pcmPlayer) PlayPCM(pcm audio.PCM) error {
	p.got <- pcm
	return nil
}

func TestDecodedBeforeDispatch(t *testing.T) {
	loop := NewLoop()
	player := &pcmPlayer{
		MockPlayer: audio.NewMockPlayer(0, audio.MockCallbacks{}),
		rate:       8000,
		channels:   2,
		got:        make(chan audio.PCM, 1),
	}
	tester := NewTester(loop, func() (audio.AudioPlayer, error) { return player, nil })
	t.Cleanup(func() {
		_ = tester.Close()
		loop.Close()
	})

	errs := make(chan error, 1)
	tester.PlaybackError = func(err error) { errs <- err }

	wav := audio.EncodeWAV(audio.PCM{Data: make([]byte, 3200), SampleRate: 16000, Channels: 1})
	tester.DoTest(context.Background(), &fakeSource{resp: response(http.StatusOK, "audio/wav", wav)}, "x",
		func(int, int, string, string) {},
		func(reason string) { t.Errorf("unexpected failure %q", reason) },
	)

	select {
	case pcm := <-player.got:
		if pcm.SampleRate != 8000 || pcm.Channels != 2 {
			t.Errorf("PCM not converted to the device format: %d Hz/%d ch", pcm.SampleRate, pcm.Channels)
		}
	case err := <-errs:
		t.Fatalf("playback failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("nothing played")
	}
	if n := len(player.Clips()); n != 0 {
		t.Errorf("encoded body handed to the player %d times", n)
	}
}

func TestUndecodableAudioIsPlaybackError(t *testing.T) {
	loop := NewLoop()
	player := &pcmPlayer{
		MockPlayer: audio.NewMockPlayer(0, audio.MockCallbacks{}),
		rate:       8000,
		channels:   1,
		got:        make(chan audio.PCM, 1),
	}
	tester := NewTester(loop, func() (audio.AudioPlayer, error) { return player, nil })
	t.Cleanup(func() {
		_ = tester.Close()
		loop.Close()
	})

	errs := make(chan error, 1)
	tester.PlaybackError = func(err error) { errs <- err }

	var calls atomic.Int32
	tester.DoTest(context.Background(), &fakeSource{resp: response(http.StatusOK, "", []byte("not audio"))}, "x",
		func(int, int, string, string) { calls.Add(1) },
		func(string) { calls.Add(1) },
	)

	select {
	case err := <-errs:
		if !errors.Is(err, audio.ErrUnsupportedFormat) {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("PlaybackError not called")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly one callback, got %d", n)
	}
}
