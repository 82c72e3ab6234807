package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/humscore/internal/capture"
	"github.com/audiolibrelab/humscore/internal/machine"
	"github.com/audiolibrelab/humscore/internal/present"
	"github.com/audiolibrelab/humscore/internal/transcribe"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [take-name]",
	Short: "Record a take, transcribe it and export the score",
	Long: `Record from the microphone until you press Ctrl+C or the recording
limit is reached, upload the take to the transcription service, and
export the MusicXML score, the MIDI file and an engraved SVG into the
output directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		takeName := ""
		if len(args) == 1 {
			takeName = args[0]
		}
		if takeName == "" {
			takeName = "take-" + time.Now().Format("20060102-150405")
		}

		client := transcribe.New(cfg.API.BaseURL, time.Duration(cfg.API.TimeoutSeconds)*time.Second)
		renderer := present.NewExecRenderer(cfg.Output.Directory, takeName)

		m := machine.New(machine.Options{
			Microphone:      capture.NewPulseMicrophone(cfg.Capture.Source),
			Engine:          capture.NewFFmpegEngine(),
			Client:          client,
			Presenter:       present.New(renderer),
			LimitSeconds:    cfg.Record.LimitSeconds,
			MimePreferences: cfg.Record.MimePreferences,
		})

		snapshots := make(chan machine.Snapshot, 16)
		m.OnChange(func(snap machine.Snapshot) {
			select {
			case snapshots <- snap:
			default:
			}
		})

		if err := m.Start(context.Background(), takeName); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		fmt.Printf("Recording %q — Ctrl+C to stop (auto-stop after %ds)\n", takeName, cfg.Record.LimitSeconds)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		// Wait until the machine leaves Recording: either the user
		// interrupts or the timer expiry stops it for us.
	recording:
		for {
			select {
			case <-sigChan:
				fmt.Println()
				if err := m.Stop(); err != nil {
					slog.Debug("manual stop skipped", "error", err)
				}
			case snap := <-snapshots:
				switch snap.State {
				case machine.StateRecording:
					fmt.Printf("\r  %s", snap.ElapsedDisplay)
				default:
					fmt.Println()
					break recording
				}
			}
		}

		snap := m.Snapshot()
		if snap.State != machine.StateCaptured {
			return fmt.Errorf("recording failed: %s", snap.Status)
		}
		fmt.Println(snap.Status)

		if err := m.Transcribe(context.Background()); err != nil {
			return fmt.Errorf("transcription failed: %w", err)
		}
		snap = m.Snapshot()
		fmt.Println(snap.Status)

		result := m.Result()
		artifact := m.Artifact()
		meta := present.TakeMetadata{
			TakeID:     snap.TakeID,
			AudioMIME:  artifact.MIME,
			AudioBytes: artifact.Size(),
		}
		if result != nil {
			meta.MIDIBytes = len(result.MIDI)
			meta.DurationSec = result.Meta.DurationSec
		}

		written, err := present.Export(cfg.Output.Directory, snap.TakeName, m.Downloads(), meta)
		if err != nil {
			return fmt.Errorf("failed to export artifacts: %w", err)
		}
		for _, path := range written {
			fmt.Println("  wrote", path)
		}

		return nil
	},
}
