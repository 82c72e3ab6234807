package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// encoding maps a MIME type to ffmpeg muxer and codec arguments.
// audio/mp4 is absent: the mp4 muxer needs a seekable output and cannot
// stream to a pipe, so the engine reports it unsupported.
var encodings = map[string]struct {
	format string
	codec  string
}{
	"audio/webm;codecs=opus": {format: "webm", codec: "libopus"},
	"audio/webm":             {format: "webm", codec: "libopus"},
	"audio/ogg;codecs=opus":  {format: "ogg", codec: "libopus"},
	"audio/ogg":              {format: "ogg", codec: "libvorbis"},
}

const defaultEncoding = "audio/webm"

// FFmpegEngine records from a PulseAudio/PipeWire source by streaming
// ffmpeg's encoded output through a pipe.
type FFmpegEngine struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	mime       string
	stderrBuf  strings.Builder
	readerDone chan struct{}
}

// NewFFmpegEngine creates the exec-driven recording engine
func NewFFmpegEngine() *FFmpegEngine {
	return &FFmpegEngine{}
}

// Supports reports whether ffmpeg can stream the given MIME type
func (e *FFmpegEngine) Supports(mimeType string) bool {
	_, ok := encodings[mimeType]
	return ok
}

// Begin starts ffmpeg reading the stream's source and emitting encoded
// chunks to onChunk as they leave the muxer.
func (e *FFmpegEngine) Begin(ctx context.Context, stream Stream, mimeType string, onChunk func([]byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return fmt.Errorf("engine already recording")
	}

	if mimeType == "" {
		mimeType = defaultEncoding
	}
	enc, ok := encodings[mimeType]
	if !ok {
		return fmt.Errorf("unsupported encoding: %s", mimeType)
	}

	source := stream.Source()
	if source == "" {
		source = "default"
	}

	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-f", "pulse",
		"-i", source,
		"-ac", "1",
		"-ar", "48000",
		"-c:a", enc.codec,
		"-f", enc.format,
		"pipe:1",
	}

	slog.Info("starting ffmpeg capture", "source", source, "mime", mimeType)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	e.cmd = cmd
	e.mime = mimeType
	e.stderrBuf.Reset()
	e.readerDone = make(chan struct{})

	go e.readChunks(stdout, onChunk)
	go e.readStderr(stderr)

	return nil
}

// readChunks forwards encoded output in arrival order
func (e *FFmpegEngine) readChunks(pipe io.ReadCloser, onChunk func([]byte)) {
	defer close(e.readerDone)
	defer pipe.Close()

	buf := make([]byte, 4096)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			onChunk(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("ffmpeg stdout closed", "error", err)
			}
			return
		}
	}
}

func (e *FFmpegEngine) readStderr(pipe io.ReadCloser) {
	defer pipe.Close()
	buf := make([]byte, 1024)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.stderrBuf.Write(buf[:n])
			e.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Finish asks ffmpeg to flush and exit, waits for the remaining output
// to drain, and returns the encoding that was used.
func (e *FFmpegEngine) Finish() (string, error) {
	e.mu.Lock()
	cmd := e.cmd
	mime := e.mime
	readerDone := e.readerDone
	e.cmd = nil
	e.mu.Unlock()

	if cmd == nil {
		return "", fmt.Errorf("engine not recording")
	}

	if cmd.Process != nil {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("failed to interrupt ffmpeg, killing", "error", err)
			cmd.Process.Kill()
		}
	}

	return mime, e.waitForExit(cmd, readerDone)
}

// waitForExit mirrors the graceful-then-forced shutdown used for the
// capture process: SIGINT lets ffmpeg finalize the container, SIGKILL
// after a timeout keeps us from hanging on a wedged encoder.
func (e *FFmpegEngine) waitForExit(cmd *exec.Cmd, readerDone chan struct{}) error {
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		<-readerDone
		if err != nil && !isSignalExit(err) {
			e.mu.Lock()
			detail := e.stderrBuf.String()
			e.mu.Unlock()
			return fmt.Errorf("ffmpeg failed: %w (%s)", err, strings.TrimSpace(detail))
		}
		return nil

	case <-time.After(5 * time.Second):
		slog.Warn("ffmpeg did not exit within timeout, force killing")
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-done
		<-readerDone
		return nil
	}
}

// isSignalExit reports whether the process ended due to the interrupt
// we sent rather than a real failure
func isSignalExit(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	if exitErr.ExitCode() == 255 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}
