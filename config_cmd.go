package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/jing332/tts-server-go/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the tts-server config file",
	Long:    paragraph(fmt.Sprintf("\n%s the tts-server config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("tts-server config\ntts-server config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		path := configPath()
		if err := config.EnsureFile(path); err != nil {
			return err //nolint:wrapcheck
		}

		c, err := editor.Cmd("TTS Server", path)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		// Catch mistakes now rather than when the service next starts.
		s, err := config.Open(path, nil)
		if err != nil {
			return err //nolint:wrapcheck
		}
		if _, err := s.Snapshot(); err != nil {
			return fmt.Errorf("config file %s is invalid: %w", path, err)
		}

		fmt.Println("Wrote config file to:", path)
		return nil
	},
}
