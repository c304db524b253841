// Package power keeps the machine awake while the TTS service runs.
//
// A wake lock is a child process holding a sleep inhibitor:
// systemd-inhibit on Linux, caffeinate on macOS. Other systems report
// ErrUnsupported and the user has to change their power settings by hand.
package power

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrUnsupported is returned when no inhibitor tool is available.
var ErrUnsupported = errors.New("sleep inhibition is not supported on this system")

// startupGrace is how long a freshly started inhibitor must survive before
// it is considered held. systemd-inhibit exits immediately when logind
// refuses the lock.
const startupGrace = 150 * time.Millisecond

// Inhibitor holds a sleep inhibitor lock while acquired.
type Inhibitor struct {
	who, why string

	// Replaced in tests.
	goos     string
	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInhibitor creates an inhibitor that identifies itself as who and
// explains itself with why.
func NewInhibitor(who, why string) *Inhibitor {
	return &Inhibitor{
		who:      who,
		why:      why,
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
	}
}

// argv returns the inhibitor command line for this system.
func (i *Inhibitor) argv() ([]string, error) {
	switch i.goos {
	case "linux":
		return []string{"systemd-inhibit",
			"--what=sleep:idle",
			"--who=" + i.who,
			"--why=" + i.why,
			"--mode=block",
			"sleep", "infinity",
		}, nil
	case "darwin":
		return []string{"caffeinate", "-i"}, nil
	default:
		return nil, ErrUnsupported
	}
}

// Supported reports whether Acquire can work on this system.
func (i *Inhibitor) Supported() bool {
	argv, err := i.argv()
	if err != nil {
		return false
	}
	_, err = i.lookPath(argv[0])
	return err == nil
}

// Acquire takes the lock. It is a no-op when the lock is already held.
func (i *Inhibitor) Acquire() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.heldLocked() {
		return nil
	}

	argv, err := i.argv()
	if err != nil {
		return err
	}
	if _, err := i.lookPath(argv[0]); err != nil {
		return fmt.Errorf("%w: %s not found", ErrUnsupported, argv[0])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := i.command(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "exited immediately"
		}
		return fmt.Errorf("%w: %s: %s", ErrUnsupported, argv[0], msg)
	case <-time.After(startupGrace):
	}

	i.cancel = cancel
	i.done = done
	log.Info("Wake lock acquired", "tool", argv[0])
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (i *Inhibitor) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cancel == nil {
		return
	}
	i.cancel()
	<-i.done
	i.cancel = nil
	i.done = nil
	log.Info("Wake lock released")
}

// Held reports whether the lock is currently held.
func (i *Inhibitor) Held() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.heldLocked()
}

func (i *Inhibitor) heldLocked() bool {
	if i.done == nil {
		return false
	}
	select {
	case <-i.done:
		// The inhibitor died on its own.
		i.cancel()
		i.cancel = nil
		i.done = nil
		return false
	default:
		return true
	}
}
