package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jing332/tts-server-go/internal/httptts"
)

var (
	engineCmd = &cobra.Command{
		Use:   "engine",
		Short: "Manage HTTP TTS engines",
		Long: paragraph(fmt.Sprintf("\n%s the HTTP engines the service forwards synthesis requests to. "+
			"URL and body are templates with .Text, .Rate, .Volume and .Pitch.", keyword("Manage"))),
		Args: cobra.NoArgs,
	}

	engineListCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List engines",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			engines, err := a.engines.List(cmd.Context())
			if err != nil {
				return err //nolint:wrapcheck
			}
			return printEngines(cmd.OutOrStdout(), engines, a.config.DefaultEngine())
		},
	}

	newEngine  httptts.Engine
	newHeaders []string

	engineAddCmd = &cobra.Command{
		Use:   "add NAME URL",
		Short: "Add or replace an engine",
		Example: paragraph(`tts-server engine add local "http://127.0.0.1:5000/tts?text={{urlquery .Text}}"` + "\n" +
			`tts-server engine add remote https://example.com/tts --method POST --body '{"text": {{json .Text}}}' --header "Content-Type=application/json"`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := newEngine
			e.Name, e.URL = args[0], args[1]
			headers, err := parseHeaders(newHeaders)
			if err != nil {
				return err
			}
			e.Headers = headers

			a, err := openApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			saved, err := a.engines.Save(cmd.Context(), e)
			if err != nil {
				return err //nolint:wrapcheck
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved engine %s\n", keyword(saved.Name))
			return nil
		},
	}

	engineRmCmd = &cobra.Command{
		Use:     "rm NAME...",
		Aliases: []string{"remove"},
		Short:   "Remove engines",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var errs []error
			for _, name := range args {
				if err := a.engines.Delete(cmd.Context(), name); err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed engine %s\n", keyword(name))
			}
			return errors.Join(errs...)
		},
	}

	engineImportCmd = &cobra.Command{
		Use:   "import FILE",
		Short: "Import engines from a YAML file",
		Long:  paragraph("\nImport engines from a YAML file written by `tts-server engine export`. Engines with the same name are replaced. Use - to read stdin."),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("unable to open file: %w", err)
				}
				defer f.Close() //nolint:errcheck
				r = f
			}
			engines, err := httptts.LoadYAML(r)
			if err != nil {
				return err //nolint:wrapcheck
			}

			a, err := openApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, e := range engines {
				if _, err := a.engines.Save(cmd.Context(), e); err != nil {
					return err //nolint:wrapcheck
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d engines\n", len(engines))
			return nil
		},
	}

	engineExportCmd = &cobra.Command{
		Use:   "export [FILE]",
		Short: "Export engines as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			engines, err := a.engines.List(cmd.Context())
			if err != nil {
				return err //nolint:wrapcheck
			}

			if len(args) == 0 || args[0] == "-" {
				return httptts.WriteYAML(cmd.OutOrStdout(), engines) //nolint:wrapcheck
			}
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("unable to create file: %w", err)
			}
			if err := httptts.WriteYAML(f, engines); err != nil {
				_ = f.Close()
				return err //nolint:wrapcheck
			}
			return f.Close() //nolint:wrapcheck
		},
	}
)

func init() {
	f := engineAddCmd.Flags()
	f.StringVarP(&newEngine.Method, "method", "X", "", "HTTP method (default GET, or POST with --body)")
	f.StringVarP(&newEngine.Body, "body", "d", "", "request body template")
	f.StringArrayVarP(&newHeaders, "header", "H", nil, "request header as KEY=VALUE (repeatable)")
	f.StringVar(&newEngine.ContentType, "content-type", "", "audio content type when the engine does not send a useful one")
	f.IntVar(&newEngine.Rate, "rate", 0, "speech rate 0-100 (default 50)")
	f.IntVar(&newEngine.Volume, "volume", 0, "volume 0-100 (default 50)")
	f.IntVar(&newEngine.Pitch, "pitch", 0, "pitch 0-100 (default 50)")
	f.DurationVar(&newEngine.Timeout, "timeout", 0, fmt.Sprintf("request timeout (default %s)", 10*time.Second))

	engineCmd.AddCommand(engineListCmd, engineAddCmd, engineRmCmd, engineImportCmd, engineExportCmd)
}

// parseHeaders turns KEY=VALUE (or "Key: Value") pairs into a header map.
func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			k, v, ok = strings.Cut(p, ":")
		}
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q: use KEY=VALUE", p)
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers, nil
}

func printEngines(w io.Writer, engines []httptts.Engine, def string) error {
	if len(engines) == 0 {
		_, err := fmt.Fprintln(w, subtle("No engines yet. Add one with `tts-server engine add NAME URL`."))
		return err //nolint:wrapcheck
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMETHOD\tURL")
	for _, e := range engines {
		name := e.Name
		if name == def {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, e.WithDefaults().Method, e.URL)
	}
	return tw.Flush() //nolint:wrapcheck
}
