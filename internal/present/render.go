package present

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExecRenderer engraves the score with an external tool, writing an SVG
// next to the exported artifacts. Used by the terminal flow; the web
// server renders in the browser instead.
type ExecRenderer struct {
	outputDir string
	takeName  string
}

// NewExecRenderer creates a renderer writing into outputDir
func NewExecRenderer(outputDir, takeName string) *ExecRenderer {
	return &ExecRenderer{outputDir: outputDir, takeName: takeName}
}

// Render writes the score document to a temp file and runs the first
// available engraver on it.
func (r *ExecRenderer) Render(ctx context.Context, musicXML string) error {
	engraver, err := findEngraver()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	scorePath := filepath.Join(os.TempDir(), r.takeName+".musicxml")
	if err := os.WriteFile(scorePath, []byte(musicXML), 0644); err != nil {
		return fmt.Errorf("failed to write score document: %w", err)
	}
	defer os.Remove(scorePath)

	outPath := filepath.Join(r.outputDir, r.takeName+".svg")

	var cmd *exec.Cmd
	switch engraver {
	case "verovio":
		cmd = exec.CommandContext(ctx, "verovio", "-o", outPath, scorePath)
	case "mscore":
		cmd = exec.CommandContext(ctx, "mscore", "-o", outPath, scorePath)
	default:
		return fmt.Errorf("unsupported engraver: %s", engraver)
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("engraving failed with %s: %w (%s)", engraver, err, strings.TrimSpace(string(out)))
	}

	return nil
}

// findEngraver probes for score engravers in order of preference
func findEngraver() (string, error) {
	engravers := []string{"verovio", "mscore"}

	for _, engraver := range engravers {
		if _, err := exec.LookPath(engraver); err == nil {
			return engraver, nil
		}
	}

	return "", fmt.Errorf("no score engraver found (tried: %s)", strings.Join(engravers, ", "))
}
