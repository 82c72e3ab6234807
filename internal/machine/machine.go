// Package machine is the recording state machine: it sequences the
// capture session and the timer, hands finished takes to the
// transcription client, and exposes the session lifecycle to the UI
// layer as state snapshots.
package machine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/humscore/internal/capture"
	"github.com/audiolibrelab/humscore/internal/config"
	"github.com/audiolibrelab/humscore/internal/present"
	"github.com/audiolibrelab/humscore/internal/timer"
	"github.com/audiolibrelab/humscore/internal/transcribe"
	"github.com/google/uuid"
)

// State is the single active phase of the machine
type State string

const (
	StateIdle       State = "IDLE"
	StateRecording  State = "RECORDING"
	StateCaptured   State = "CAPTURED"
	StateProcessing State = "PROCESSING"
	StateError      State = "ERROR"
)

// Transcriber uploads an artifact and returns the interpreted result
type Transcriber interface {
	Transcribe(ctx context.Context, artifact *capture.Artifact) (*transcribe.Result, error)
}

// Presenter renders a result and packages its downloads
type Presenter interface {
	Present(ctx context.Context, result *transcribe.Result) ([]present.Download, error)
}

// Snapshot is a point-in-time view of the machine for the UI layer
type Snapshot struct {
	State          State      `json:"state"`
	Status         string     `json:"status"`
	TakeID         string     `json:"take_id,omitempty"`
	TakeName       string     `json:"take_name,omitempty"`
	Elapsed        int        `json:"elapsed_seconds"`
	ElapsedDisplay string     `json:"elapsed_display"`
	HasAudio       bool       `json:"has_audio"`
	HasResult      bool       `json:"has_result"`
	Projection     Projection `json:"controls"`
}

// Options configures a Machine
type Options struct {
	Microphone      capture.Microphone
	Engine          capture.Engine
	Client          Transcriber
	Presenter       Presenter
	LimitSeconds    int
	TickInterval    time.Duration // defaults to one second
	MimePreferences []string
}

// Machine owns the whole session lifecycle. All per-session values that
// a browser client would keep in globals (current stream, recorder,
// blob, timer handle) live here as fields with an explicit lifecycle.
type Machine struct {
	mic       capture.Microphone
	engine    capture.Engine
	client    Transcriber
	presenter Presenter
	limit     int
	interval  time.Duration
	prefs     []string

	mu        sync.Mutex
	state     State
	status    string
	takeID    string
	takeName  string
	elapsed   int
	session   *capture.Session
	clock     *timer.Timer
	artifact  *capture.Artifact
	result    *transcribe.Result
	downloads []present.Download

	onChange func(Snapshot)
}

// New creates a machine in the Idle state
func New(opts Options) *Machine {
	interval := opts.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	prefs := opts.MimePreferences
	if len(prefs) == 0 {
		prefs = append([]string(nil), config.DefaultMimePreferences...)
	}
	return &Machine{
		mic:       opts.Microphone,
		engine:    opts.Engine,
		client:    opts.Client,
		presenter: opts.Presenter,
		limit:     opts.LimitSeconds,
		interval:  interval,
		prefs:     prefs,
		state:     StateIdle,
	}
}

// OnChange registers a listener invoked after every state change and
// every elapsed tick. The listener runs outside the machine lock.
func (m *Machine) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Start opens a capture session and begins recording. The timer's
// expiry triggers the same stop path as a manual stop.
func (m *Machine) Start(ctx context.Context, takeName string) error {
	m.mu.Lock()

	if !Project(m.state, m.artifact != nil).CanRecord {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("can only start recording from idle or captured state, current: %s", state)
	}

	session, err := capture.Open(ctx, m.mic, m.engine, m.prefs)
	if err != nil {
		m.state = StateError
		m.status = fmt.Sprintf("Could not access microphone: %v", err)
		m.artifact = nil
		m.mu.Unlock()
		m.publish()
		return err
	}

	if err := session.Begin(ctx); err != nil {
		m.state = StateError
		m.status = fmt.Sprintf("Could not start recording: %v", err)
		m.artifact = nil
		m.mu.Unlock()
		m.publish()
		return err
	}

	m.takeID = uuid.NewString()
	m.takeName = cleanTakeName(takeName)
	if m.takeName == "" {
		m.takeName = "take-" + m.takeID[:8]
	}
	m.session = session
	m.artifact = nil
	m.result = nil
	m.downloads = nil
	m.elapsed = 0
	m.state = StateRecording
	m.status = "Recording…"

	m.clock = timer.New(m.limit, m.interval)
	m.clock.Start(m.tick, m.expire)

	slog.Info("recording started", "take", m.takeName, "mime", session.MIME(), "limit_seconds", m.limit)
	m.mu.Unlock()
	m.publish()
	return nil
}

// tick runs on the timer goroutine once per second while recording
func (m *Machine) tick(elapsed int) {
	m.mu.Lock()
	if m.state == StateRecording {
		m.elapsed = elapsed
	}
	m.mu.Unlock()
	m.publish()
}

// expire is the timer's expiry callback: an implicit stop, identical to
// a manual one. A manual stop that raced us already left Recording, in
// which case the guard below turns this into a no-op.
func (m *Machine) expire() {
	slog.Info("recording limit reached, stopping automatically")
	if err := m.Stop(); err != nil {
		slog.Debug("auto-stop skipped", "error", err)
	}
}

// Stop finalizes the recording. On success the artifact is stored and
// the machine enters Captured; on finalize failure it enters Error with
// no audio. The microphone is released on both paths by the session.
func (m *Machine) Stop() error {
	m.mu.Lock()

	if m.state != StateRecording {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("no recording in progress, current state: %s", state)
	}

	m.clock.Stop()
	session := m.session
	m.session = nil

	artifact, err := session.Stop()
	if err != nil {
		m.state = StateError
		m.status = fmt.Sprintf("Recording failed: %v", err)
		m.artifact = nil
		m.mu.Unlock()
		m.publish()
		return err
	}

	m.artifact = artifact
	m.state = StateCaptured
	m.status = fmt.Sprintf("Captured %s of audio — ready to transcribe", formatElapsed(m.elapsed))

	slog.Info("recording captured", "take", m.takeName, "bytes", artifact.Size(), "mime", artifact.MIME, "elapsed", m.elapsed)
	m.mu.Unlock()
	m.publish()
	return nil
}

// Transcribe uploads the captured artifact and presents the result. The
// artifact survives a failed attempt, so transcription stays retriable.
// A renderer failure is caught here and surfaces as a status message
// only; the machine stays in Captured with the result stored.
func (m *Machine) Transcribe(ctx context.Context) error {
	m.mu.Lock()

	if m.state != StateCaptured || m.artifact == nil {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("no captured recording to transcribe, current state: %s", state)
	}

	artifact := m.artifact
	m.state = StateProcessing
	m.status = "Uploading & transcribing…"
	m.mu.Unlock()
	m.publish()

	// All other transitions are guarded out while Processing, so the
	// machine cannot change underneath the calls below.
	result, err := m.client.Transcribe(ctx, artifact)
	if err != nil {
		m.mu.Lock()
		m.state = StateCaptured
		m.status = fmt.Sprintf("Transcription failed: %v", err)
		m.mu.Unlock()
		m.publish()
		return err
	}

	m.mu.Lock()
	m.status = "Rendering score…"
	m.mu.Unlock()
	m.publish()

	downloads, presentErr := m.presenter.Present(ctx, result)

	m.mu.Lock()
	m.result = result
	m.downloads = downloads
	m.state = StateCaptured
	if presentErr != nil {
		m.status = fmt.Sprintf("Score ready, but display failed: %v", presentErr)
		slog.Warn("score rendering failed", "take", m.takeName, "error", presentErr)
	} else {
		m.status = fmt.Sprintf("Score ready — duration %ss", formatDuration(result.Meta))
		slog.Info("transcription complete", "take", m.takeName, "midi_bytes", len(result.MIDI))
	}
	m.mu.Unlock()
	m.publish()
	return nil
}

// Reset returns to Idle, discarding the artifact, result and status.
// Disallowed while an upload is in flight. Resetting during a recording
// stops and discards it, releasing the microphone.
func (m *Machine) Reset() error {
	m.mu.Lock()

	if m.state == StateProcessing {
		m.mu.Unlock()
		return fmt.Errorf("cannot reset while transcription is in progress")
	}

	if m.state == StateRecording {
		m.clock.Stop()
		if _, err := m.session.Stop(); err != nil {
			slog.Debug("discarding unfinished recording", "error", err)
		}
		m.session = nil
	}

	m.artifact = nil
	m.result = nil
	m.downloads = nil
	m.takeID = ""
	m.takeName = ""
	m.elapsed = 0
	m.state = StateIdle
	m.status = ""

	m.mu.Unlock()
	m.publish()
	return nil
}

// Snapshot returns the current view of the machine
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		State:          m.state,
		Status:         m.status,
		TakeID:         m.takeID,
		TakeName:       m.takeName,
		Elapsed:        m.elapsed,
		ElapsedDisplay: formatElapsed(m.elapsed),
		HasAudio:       m.artifact != nil,
		HasResult:      m.result != nil,
		Projection:     Project(m.state, m.artifact != nil),
	}
}

// Artifact returns the captured audio, nil when none exists
func (m *Machine) Artifact() *capture.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.artifact
}

// Result returns the last transcription result, nil when none exists
func (m *Machine) Result() *transcribe.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// Downloads returns the packaged artifacts of the last transcription
func (m *Machine) Downloads() []present.Download {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloads
}

// publish delivers a snapshot to the listener outside the lock
func (m *Machine) publish() {
	m.mu.Lock()
	fn := m.onChange
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// formatElapsed renders elapsed seconds as MM:SS
func formatElapsed(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// formatDuration renders the reported duration, "?" when absent
func formatDuration(meta transcribe.Meta) string {
	if meta.DurationSec == nil {
		return "?"
	}
	return strconv.FormatFloat(*meta.DurationSec, 'f', -1, 64)
}

// cleanTakeName sanitizes a take name for use as a filename.
// Allows: letters, numbers, spaces, hyphens, underscores
func cleanTakeName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
