package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Session is one recording session. At most one is active at a time;
// the state machine owns that invariant.
type Session struct {
	stream Stream
	engine Engine
	mime   string

	mu        sync.Mutex
	chunks    [][]byte
	began     bool
	finalized bool
	released  bool
}

// Open acquires the microphone and negotiates the recording format
// against the engine. On acquisition failure no resources are held.
func Open(ctx context.Context, mic Microphone, engine Engine, preferences []string) (*Session, error) {
	stream, err := mic.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening capture session: %w", err)
	}

	mime := Negotiate(engine, preferences)
	if mime == "" {
		slog.Debug("no preferred encoding supported, using engine default")
	} else {
		slog.Debug("negotiated recording format", "mime", mime)
	}

	return &Session{stream: stream, engine: engine, mime: mime}, nil
}

// MIME returns the negotiated MIME type, "" for the engine default
func (s *Session) MIME() string {
	return s.mime
}

// Begin starts the engine. Chunks arrive through the engine's callback
// and are appended in arrival order; reordering would corrupt the audio.
// On engine failure the microphone is released before returning.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	if s.began {
		s.mu.Unlock()
		return fmt.Errorf("capture session already started")
	}
	s.began = true
	s.mu.Unlock()

	if err := s.engine.Begin(ctx, s.stream, s.mime, s.appendChunk); err != nil {
		s.release()
		return fmt.Errorf("starting recording engine: %w", err)
	}
	return nil
}

func (s *Session) appendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	s.mu.Lock()
	s.chunks = append(s.chunks, buf)
	s.mu.Unlock()
}

// Stop finalizes the recording into one Artifact. The microphone is
// released unconditionally before Stop returns, whether or not
// finalization succeeded.
func (s *Session) Stop() (*Artifact, error) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return nil, fmt.Errorf("capture session already finalized")
	}
	s.finalized = true
	s.mu.Unlock()

	defer s.release()

	actual, err := s.engine.Finish()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssemblyFailed, err)
	}

	s.mu.Lock()
	chunks := s.chunks
	s.chunks = nil
	s.mu.Unlock()

	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: no audio data captured", ErrAssemblyFailed)
	}

	mime := actual
	if mime == "" {
		mime = s.mime
	}
	if mime == "" {
		mime = "audio/webm"
	}

	artifact := &Artifact{Data: buf.Bytes(), MIME: mime}
	slog.Debug("capture finalized", "bytes", artifact.Size(), "mime", artifact.MIME, "chunks", len(chunks))
	return artifact, nil
}

// release closes the microphone stream exactly once
func (s *Session) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()

	if err := s.stream.Release(); err != nil {
		slog.Warn("failed to release microphone", "error", err)
	}
}
