// Package present turns a transcription result into a drawn score and
// downloadable artifacts.
package present

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/humscore/internal/transcribe"
	"gopkg.in/yaml.v3"
)

// MIME types of the downloadable artifacts
const (
	MIDIContentType     = "audio/midi"
	MusicXMLContentType = "application/vnd.recordare.musicxml+xml"
)

// Renderer draws a MusicXML score document onto some display surface
type Renderer interface {
	Render(ctx context.Context, musicXML string) error
}

// RenderError is a renderer failure. It must never take down the caller;
// the transcription result stays valid for retry.
type RenderError struct {
	Cause error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("score rendering failed: %v", e.Cause)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// Download is one downloadable artifact
type Download struct {
	Name        string
	ContentType string
	Data        []byte
}

// Presenter drives the renderer and packages downloads
type Presenter struct {
	renderer Renderer
}

// New creates a presenter using the given renderer
func New(renderer Renderer) *Presenter {
	return &Presenter{renderer: renderer}
}

// Present renders the score and returns the two downloads (decoded MIDI
// and the raw MusicXML text). A renderer failure comes back as a
// *RenderError, but the downloads are still returned: the result is
// intact and the caller surfaces the failure as a status message only.
func (p *Presenter) Present(ctx context.Context, result *transcribe.Result) ([]Download, error) {
	if result == nil {
		return nil, fmt.Errorf("no transcription result to present")
	}

	downloads := []Download{
		{Name: "take.mid", ContentType: MIDIContentType, Data: result.MIDI},
		{Name: "take.musicxml", ContentType: MusicXMLContentType, Data: []byte(result.MusicXML)},
	}

	if p.renderer != nil {
		if err := p.renderer.Render(ctx, result.MusicXML); err != nil {
			return downloads, &RenderError{Cause: err}
		}
	}

	return downloads, nil
}

// TakeMetadata is the YAML sidecar written next to exported artifacts
type TakeMetadata struct {
	TakeID      string   `yaml:"take_id"`
	RecordedAt  string   `yaml:"recorded_at"`
	AudioMIME   string   `yaml:"audio_mime"`
	AudioBytes  int      `yaml:"audio_bytes"`
	MIDIBytes   int      `yaml:"midi_bytes"`
	DurationSec *float64 `yaml:"duration_sec,omitempty"`
}

// Export writes the downloads and a metadata sidecar into dir, prefixing
// each file with the take name.
func Export(dir, takeName string, downloads []Download, meta TakeMetadata) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	for _, d := range downloads {
		path := filepath.Join(dir, takeName+filepath.Ext(d.Name))
		if err := os.WriteFile(path, d.Data, 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
		slog.Info("artifact exported", "path", path, "bytes", len(d.Data), "content_type", d.ContentType)
	}

	if meta.RecordedAt == "" {
		meta.RecordedAt = time.Now().Format(time.RFC3339)
	}
	sidecar, err := yaml.Marshal(&meta)
	if err != nil {
		return written, fmt.Errorf("failed to marshal take metadata: %w", err)
	}
	metaPath := filepath.Join(dir, takeName+".yaml")
	if err := os.WriteFile(metaPath, sidecar, 0644); err != nil {
		return written, fmt.Errorf("failed to write %s: %w", metaPath, err)
	}
	written = append(written, metaPath)

	return written, nil
}
