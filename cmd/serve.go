package cmd

import (
	"fmt"
	"time"

	"github.com/audiolibrelab/humscore/internal/capture"
	"github.com/audiolibrelab/humscore/internal/machine"
	"github.com/audiolibrelab/humscore/internal/present"
	"github.com/audiolibrelab/humscore/internal/server"
	"github.com/audiolibrelab/humscore/internal/transcribe"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the browser UI",
	Long: `Start the HumScore control server. Open the printed URL in a browser
(phone works too) to record, transcribe and download the results; the
score is drawn directly on the page.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		srv := server.New(cfg, port)

		client := transcribe.New(cfg.API.BaseURL, time.Duration(cfg.API.TimeoutSeconds)*time.Second)
		m := machine.New(machine.Options{
			Microphone:      capture.NewPulseMicrophone(cfg.Capture.Source),
			Engine:          capture.NewFFmpegEngine(),
			Client:          client,
			Presenter:       present.New(srv),
			LimitSeconds:    cfg.Record.LimitSeconds,
			MimePreferences: cfg.Record.MimePreferences,
		})
		srv.Attach(m)

		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (overrides config)")
}
