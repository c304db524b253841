package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jing332/tts-server-go/internal/server"
)

// errForeignListener means the port answers but not as a tts-server.
var errForeignListener = errors.New("the configured port is used by another program")

var switchCmd = &cobra.Command{
	Use:   "switch",
	Short: "Start the TTS service, or stop it if it is already running",
	Long: paragraph(fmt.Sprintf("\n%s the service: when a tts-server answers on the configured port it is asked to stop, "+
		"otherwise the service starts in the foreground. This is what the desktop shortcut runs.", keyword("Toggle"))),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		base := fmt.Sprintf("http://127.0.0.1:%d", a.config.Port())
		token := a.config.Token()

		running, err := probeService(ctx, base, token)
		if err != nil {
			return err
		}
		if !running {
			return serve(ctx, a)
		}

		if err := requestShutdown(ctx, base, token); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, paragraph("\nService "+keyword("stopped")+"."))
		return nil
	},
}

var switchClient = &http.Client{Timeout: 3 * time.Second}

func authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// probeService reports whether a tts-server is listening at base.
func probeService(ctx context.Context, base, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/status", nil)
	if err != nil {
		return false, fmt.Errorf("unable to create request: %w", err)
	}
	authorize(req, token)

	resp, err := switchClient.Do(req)
	if err != nil {
		log.Debug("No service answering", "url", base, "error", err)
		return false, nil
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return false, errors.New("the running service rejected the configured token")
	default:
		return false, fmt.Errorf("%w (HTTP %d)", errForeignListener, resp.StatusCode)
	}

	var st server.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil || !st.Running {
		return false, errForeignListener
	}
	return true, nil
}

func requestShutdown(ctx context.Context, base, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/shutdown", nil)
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}
	authorize(req, token)

	resp, err := switchClient.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach service: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("service refused to stop: HTTP %d", resp.StatusCode)
	}
	return nil
}

// executable is the path the desktop shortcut launches.
func executable() string {
	p, err := os.Executable()
	if err != nil {
		return "tts-server"
	}
	return p
}
