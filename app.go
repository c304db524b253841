package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/jing332/tts-server-go/internal/audio"
	"github.com/jing332/tts-server-go/internal/cache"
	"github.com/jing332/tts-server-go/internal/config"
	"github.com/jing332/tts-server-go/internal/desktop"
	"github.com/jing332/tts-server-go/internal/httptts"
	"github.com/jing332/tts-server-go/internal/power"
	"github.com/jing332/tts-server-go/internal/server"
	"github.com/jing332/tts-server-go/internal/store"
	"github.com/jing332/tts-server-go/internal/updates"
	"github.com/jing332/tts-server-go/ui"
)

// app holds the long-lived services shared by the commands.
type app struct {
	config    *config.Store
	engines   *store.Store
	client    *httptts.Client
	cache     *cache.Manager
	inhibitor *power.Inhibitor
	service   *server.Service
}

// openApp loads the configuration and opens the engine database and audio
// cache. setup is passed to config.Open.
func openApp(setup func(*viper.Viper)) (*app, error) {
	cfgStore, err := config.Open(configPath(), setup)
	if err != nil {
		return nil, err
	}
	snap, err := cfgStore.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", cfgStore.Path(), err)
	}
	log.Debug("Using configuration file", "path", cfgStore.Path())

	engines, err := store.Open(filepath.Join(snap.DataDir, store.FileName))
	if err != nil {
		return nil, err
	}

	a := &app{
		config:    cfgStore,
		engines:   engines,
		client:    httptts.NewClient(clientOptions(snap)),
		cache:     openCache(snap.Cache),
		inhibitor: power.NewInhibitor(config.AppName, "Serving text-to-speech requests"),
	}
	a.service = server.New(server.Options{
		Config:    a.config,
		Engines:   a.engines,
		Client:    a.client,
		Cache:     a.cache,
		Logs:      logs,
		Inhibitor: a.inhibitor,
		Version:   Version,
	})
	return a, nil
}

func clientOptions(snap config.ServerConfig) httptts.ClientOptions {
	return httptts.ClientOptions{RequestsPerMinute: snap.EngineRequestsPerMinute}
}

// openCache builds the audio cache. A cache that cannot be opened is
// logged and left out; synthesis works without it.
func openCache(c config.CacheConfig) *cache.Manager {
	if !c.Enabled {
		return nil
	}
	cfg := cache.DefaultConfig(c.Dir)
	cfg.MemoryCapacity = int64(c.MemoryMB) << 20
	cfg.DiskCapacity = int64(c.MaxSizeMB) << 20
	cfg.TTL = time.Duration(c.TTLDays) * 24 * time.Hour

	m, err := cache.NewManager(cfg)
	if err != nil {
		log.Warn("Audio cache disabled", "error", err)
		return nil
	}
	return m
}

func (a *app) deps() ui.Deps {
	return ui.Deps{
		Config:    a.config,
		Service:   a.service,
		Engines:   a.engines,
		Client:    a.client,
		Cache:     a.cache,
		Logs:      logs,
		Inhibitor: a.inhibitor,
		NewPlayer: newPlayer,
		Shortcut:  switchShortcut(),
		Updates:   updates.Checker{},
	}
}

func (a *app) stopService() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.service.Stop(ctx); err != nil && !errors.Is(err, server.ErrNotRunning) {
		return fmt.Errorf("unable to stop service: %w", err)
	}
	return nil
}

// Close releases everything openApp opened.
func (a *app) Close() {
	a.inhibitor.Release()
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Warn("Could not close audio cache", "error", err)
		}
	}
	if err := a.engines.Close(); err != nil {
		log.Warn("Could not close engine database", "error", err)
	}
}

func newPlayer() (audio.AudioPlayer, error) {
	p, err := audio.NewPlayer(audio.DefaultPlayerConfig())
	if err != nil {
		return nil, err
	}
	return p, nil
}

// switchShortcut is the launcher that starts or stops the service.
func switchShortcut() desktop.Shortcut {
	return desktop.Shortcut{
		ID:       config.AppName + "-switch",
		Name:     "TTS Server switch",
		Comment:  "Start or stop the TTS server",
		Exec:     executable(),
		Args:     []string{"switch"},
		Icon:     "audio-speakers",
		Terminal: false,
	}
}
