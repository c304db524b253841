package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jing332/tts-server-go/internal/audio"
	"github.com/jing332/tts-server-go/internal/httptts"
	"github.com/jing332/tts-server-go/internal/preview"
)

var errPlaybackDisabled = errors.New("playback disabled")

var (
	testText   string
	testNoPlay bool

	testCmd = &cobra.Command{
		Use:   "test [ENGINE]",
		Short: "Synthesize a sample with an engine and play it",
		Long: paragraph(fmt.Sprintf("\n%s an engine: request audio for a sample text, report its size, sample rate "+
			"and format, then play it. Without ENGINE the default engine is used.", keyword("Test"))),
		Example: paragraph("tts-server test\ntts-server test edge --text \"Good morning\""),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			name := a.config.DefaultEngine()
			if len(args) == 1 {
				name = args[0]
			}
			e, err := resolveEngine(ctx, a, name)
			if err != nil {
				return err
			}
			return runTest(ctx, a.client.Bind(e), testText, !testNoPlay)
		},
	}
)

func init() {
	testCmd.Flags().StringVarP(&testText, "text", "t", "Hello, this is a test of the selected engine.", "text to synthesize")
	testCmd.Flags().BoolVar(&testNoPlay, "no-play", false, "report the result without playing it")
}

func resolveEngine(ctx context.Context, a *app, name string) (httptts.Engine, error) {
	if name != "" {
		return a.engines.Find(ctx, name) //nolint:wrapcheck
	}
	engines, err := a.engines.List(ctx)
	if err != nil {
		return httptts.Engine{}, err //nolint:wrapcheck
	}
	if len(engines) == 0 {
		return httptts.Engine{}, errors.New("no engines configured; add one with `tts-server engine add`")
	}
	return engines[0], nil
}

// runTest runs a preview test on a serial loop and waits for the outcome,
// then for playback to finish.
func runTest(ctx context.Context, src *httptts.Bound, text string, play bool) error {
	loop := preview.NewLoop()
	defer loop.Close()

	factory := newPlayer
	if !play {
		factory = func() (audio.AudioPlayer, error) { return nil, errPlaybackDisabled }
	}
	tester := preview.NewTester(loop, factory)
	defer tester.Close() //nolint:errcheck

	type outcome struct {
		res    preview.Result
		reason string
	}
	done := make(chan outcome, 1)
	playErr := make(chan error, 1)
	tester.PlaybackError = func(err error) {
		if play {
			playErr <- err
		}
	}

	tester.DoTest(ctx, src, text,
		func(size, sampleRate int, mime, contentType string) {
			done <- outcome{res: preview.Result{Size: size, SampleRate: sampleRate, MIME: mime, ContentType: contentType}}
		},
		func(reason string) { done <- outcome{reason: reason} },
	)

	fancy := term.IsTerminal(int(os.Stdout.Fd()))
	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}

	if o.reason != "" {
		if fancy {
			fmt.Println(failure("Test failed"))
		}
		return errors.New(o.reason)
	}

	header := src.Name()
	if fancy {
		header = keyword(header)
	}
	fmt.Printf("%s: %s (%s)\n", header, o.res, humanize.Bytes(uint64(o.res.Size))) //nolint:gosec
	if !play {
		return nil
	}

	// Give the player a moment to start, then wait for the clip to end.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	started := false
	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case err := <-playErr:
			return fmt.Errorf("playback failed: %s", strings.TrimSpace(preview.MessageChain(err)))
		case <-ctx.Done():
			tester.StopPlay()
			return nil
		case <-ticker.C:
			playing := tester.Playing()
			if playing {
				started = true
			}
			if (started && !playing) || (!started && time.Now().After(deadline)) {
				if fancy {
					fmt.Println(subtle("done"))
				}
				return nil
			}
		}
	}
}
