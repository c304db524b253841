package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"

	"github.com/jing332/tts-server-go/internal/config"
)

// logOutput is where log lines go; serve adds stderr to it.
var logOutput io.Writer = io.Discard

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, config.AppName).CacheDir()
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return filepath.Join(dir, config.AppName+".log"), nil
}

// setupLog sends log output to the log file and to ring. Set TTS_SERVER_DEBUG
// to include debug messages.
func setupLog(ring io.Writer) (func() error, error) {
	logOutput = ring
	log.SetOutput(logOutput)
	log.SetReportTimestamp(true)
	if os.Getenv("TTS_SERVER_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	// Log to file, if set
	logFile, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		// log disabled
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		// log disabled
		return func() error { return nil }, nil
	}
	logOutput = io.MultiWriter(f, ring)
	log.SetOutput(logOutput)
	return f.Close, nil
}
