// Package desktop integrates with the user's desktop: opening the web panel
// in a browser, creating a launcher shortcut and copying to the clipboard.
package desktop

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	homedir "github.com/mitchellh/go-homedir"
)

// Operating system constants
const (
	OSDarwin  = "darwin"
	OSWindows = "windows"
	OSLinux   = "linux"
)

// ErrUnsupported is returned when the desktop lacks the needed facility.
var ErrUnsupported = errors.New("not supported on this desktop")

// run starts a command without waiting for it; replaced in tests.
var run = func(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// openCommand returns the command line that opens url on goos.
func openCommand(goos, url string) ([]string, error) {
	switch goos {
	case OSDarwin:
		return []string{"open", url}, nil
	case OSWindows:
		return []string{"rundll32", "url.dll,FileProtocolHandler", url}, nil
	case OSLinux, "freebsd", "openbsd", "netbsd":
		return []string{"xdg-open", url}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, goos)
	}
}

// OpenURL opens url in the default browser.
func OpenURL(url string) error {
	argv, err := openCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}
	log.Debug("Opening browser", "url", url)
	if err := run(argv[0], argv[1:]...); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	return nil
}

// CopyToClipboard places text on the system clipboard.
func CopyToClipboard(text string) error {
	if clipboard.Unsupported {
		return ErrUnsupported
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	return nil
}

// Shortcut describes a desktop launcher entry.
type Shortcut struct {
	ID       string // file name without extension
	Name     string
	Comment  string
	Exec     string
	Args     []string
	Icon     string
	Terminal bool
}

// Render returns the freedesktop.org .desktop file for s.
func (s Shortcut) Render() string {
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	b.WriteString("Version=1.0\n")
	fmt.Fprintf(&b, "Name=%s\n", s.Name)
	if s.Comment != "" {
		fmt.Fprintf(&b, "Comment=%s\n", s.Comment)
	}

	parts := make([]string, 0, 1+len(s.Args))
	for _, p := range append([]string{s.Exec}, s.Args...) {
		parts = append(parts, quoteExecArg(p))
	}
	fmt.Fprintf(&b, "Exec=%s\n", strings.Join(parts, " "))

	icon := s.Icon
	if icon == "" {
		icon = "audio-speakers"
	}
	fmt.Fprintf(&b, "Icon=%s\n", icon)
	fmt.Fprintf(&b, "Terminal=%t\n", s.Terminal)
	b.WriteString("Categories=AudioVideo;Utility;\n")
	return b.String()
}

// quoteExecArg quotes an Exec key argument the way desktop entry files expect.
func quoteExecArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\><~|&;$*?#()`") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	return `"` + r.Replace(s) + `"`
}

// ApplicationsDir returns the per-user directory for launcher entries.
func ApplicationsDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "applications"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "applications"), nil
}

// CreateShortcut installs s as a launcher entry and returns its path.
func CreateShortcut(s Shortcut) (string, error) {
	if runtime.GOOS == OSWindows || runtime.GOOS == OSDarwin {
		return "", fmt.Errorf("%w: launcher entries need a freedesktop.org desktop", ErrUnsupported)
	}
	if s.ID == "" || s.Exec == "" {
		return "", errors.New("shortcut needs an id and a command")
	}

	dir, err := ApplicationsDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	path := filepath.Join(dir, s.ID+".desktop")
	if err := os.WriteFile(path, []byte(s.Render()), 0o755); err != nil {
		return "", fmt.Errorf("failed to write shortcut: %w", err)
	}
	log.Info("Created shortcut", "path", path)
	return path, nil
}
