package ui

import "time"

// Config contains TUI-specific configuration. Fields with env tags are read
// with caarlos0/env; the rest are filled in by the caller.
type Config struct {
	// Version is shown in the drawer header and the about dialog.
	Version string
	// ConfigPath is the server config file, watched for external edits and
	// opened by the Settings entry.
	ConfigPath string

	GlamourStyle string `env:"GLAMOUR_STYLE" envDefault:"auto"`
	EnableMouse  bool   `env:"TTS_SERVER_MOUSE"`

	// LogLines caps the lines kept on the log page.
	LogLines int `env:"TTS_SERVER_LOG_LINES" envDefault:"500"`
	// PreviewText prefills the preview dialog.
	PreviewText string `env:"TTS_SERVER_PREVIEW_TEXT" envDefault:"Hello, this is a test of the selected engine."`
	// CheckUpdates looks for a newer release once at startup.
	CheckUpdates bool `env:"TTS_SERVER_CHECK_UPDATES" envDefault:"true"`
	// StatusInterval is how often the web page refreshes the service status.
	StatusInterval time.Duration `env:"TTS_SERVER_STATUS_INTERVAL" envDefault:"2s"`
}
