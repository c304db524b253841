package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jing332/tts-server-go/internal/config"
	"github.com/jing332/tts-server-go/internal/server"
)

var (
	servePort int
	serveQR   bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the TTS service without the terminal UI",
		Long: paragraph(fmt.Sprintf("\n%s the TTS service in the foreground and log to stderr. "+
			"Stop it with ctrl+c, the panel's stop button or `tts-server switch`.", keyword("Run"))),
		Example: paragraph("tts-server serve\ntts-server serve --port 8080 --qr"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log.SetOutput(io.MultiWriter(logOutput, os.Stderr))

			a, err := openApp(bindServeFlags(cmd))
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", config.DefaultPort, "port to listen on")
	serveCmd.Flags().BoolVar(&serveQR, "qr", false, "print a QR code of the network address")
}

// bindServeFlags lets --port override the config file without writing it.
func bindServeFlags(cmd *cobra.Command) func(*viper.Viper) {
	return func(v *viper.Viper) {
		_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	}
}

// serve runs the service until it is stopped or the process is signalled.
func serve(ctx context.Context, a *app) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.service.Start(ctx); err != nil {
		return err //nolint:wrapcheck
	}

	fmt.Fprintln(os.Stderr, paragraph(fmt.Sprintf("\nWeb panel: %s", keyword(a.service.URL()))))
	if lan := a.service.LANURL(); lan != "" {
		fmt.Fprintln(os.Stderr, paragraph(fmt.Sprintf("Network:   %s", keyword(lan))))
		if serveQR {
			if qr, err := server.QRText(lan); err == nil {
				fmt.Fprintln(os.Stderr, qr)
			}
		}
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down", "reason", context.Cause(ctx))
	case <-a.service.Done():
	}

	return a.stopService()
}
