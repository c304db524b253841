// Package main provides the entry point for the tts-server CLI application.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jing332/tts-server-go/internal/config"
	"github.com/jing332/tts-server-go/internal/logring"
	"github.com/jing332/tts-server-go/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	mouse      bool

	// logs holds recent log lines for the Log page and the log stream.
	logs = logring.New(logring.DefaultCapacity)

	rootCmd = &cobra.Command{
		Use:   "tts-server",
		Short: "A local text-to-speech server with a terminal control panel",
		Long: paragraph(
			fmt.Sprintf("\nRun a local %s with an HTTP API and a web control panel, managed from the terminal.", keyword("text-to-speech server")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		RunE:             execute,
	}
)

// validateStyle checks if the style is a default style, if not, checks that
// the custom style exists.
func validateStyle(style string) error {
	if style != styles.AutoStyle && styles.DefaultStyles[style] == nil {
		style = config.ExpandPath(style)
		if _, err := os.Stat(style); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("specified style does not exist: %s", style)
		} else if err != nil {
			return fmt.Errorf("unable to stat file: %w", err)
		}
	}
	return nil
}

func execute(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("the control panel needs a terminal; use `tts-server serve` to run headless")
	}
	return runTUI(cmd)
}

func runTUI(cmd *cobra.Command) error {
	// Read environment to get debugging stuff
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	// use style set in env, or auto if unset
	if err := validateStyle(cfg.GlamourStyle); err != nil {
		log.Warn("Ignoring glamour style", "error", err)
		cfg.GlamourStyle = styles.AutoStyle
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg.Version = Version
	cfg.ConfigPath = a.config.Path()
	if cmd.Flags().Changed("mouse") {
		cfg.EnableMouse = mouse
	}

	// Run Bubble Tea program
	p := ui.NewProgram(cfg, a.deps())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return a.stopService()
}

func main() {
	closer, err := setupLog(logs)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	loadDotEnv()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigFile()))
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	_ = rootCmd.Flags().MarkHidden("mouse")

	rootCmd.AddCommand(serveCmd, switchCmd, testCmd, engineCmd, configCmd, manCmd)
}

// loadDotEnv reads a .env file from the working directory, if there is one.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Could not parse .env file", "err", err)
	}
}

// defaultConfigFile returns the first existing config file in the config
// directories, or where a new one should be created.
func defaultConfigFile() string {
	dirs, err := config.ConfigDirs()
	if err != nil || len(dirs) == 0 {
		return config.AppName + ".yml"
	}
	for _, dir := range dirs {
		for _, name := range []string{config.AppName + ".yml", config.AppName + ".yaml"} {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return filepath.Join(dirs[0], config.AppName+".yml")
}

func configPath() string {
	if configFile != "" {
		return config.ExpandPath(configFile)
	}
	return defaultConfigFile()
}
