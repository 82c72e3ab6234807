// Package capture owns microphone access and the recording engine. A
// Session accumulates encoded chunks while recording and finalizes them
// into a single in-memory Artifact.
package capture

import (
	"context"
	"errors"
)

// Sentinel errors for expected capture failure modes
var (
	ErrPermissionDenied   = errors.New("microphone access denied")
	ErrUnsupportedContext = errors.New("audio capture not supported in this environment")
	ErrAssemblyFailed     = errors.New("failed to assemble recorded audio")
)

// Artifact is one finalized recording: the encoded payload and its
// declared MIME type. Immutable once created.
type Artifact struct {
	Data []byte
	MIME string
}

// Size returns the payload size in bytes
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// Stream is a live microphone handle. Release must always be called,
// success or failure.
type Stream interface {
	// Source identifies the underlying audio source, "" for the default
	Source() string
	Release() error
}

// Microphone acquires exclusive microphone access
type Microphone interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Engine is the recording engine: it reports which encodings it can
// produce, emits encoded chunks while running, and finalizes returning
// the encoding actually used.
type Engine interface {
	Supports(mimeType string) bool
	Begin(ctx context.Context, stream Stream, mimeType string, onChunk func([]byte)) error
	Finish() (actualMIME string, err error)
}

// Negotiate picks the first MIME type the engine supports from a
// preference-ordered candidate list. It returns "" when nothing
// matches, which means the engine's implementation default.
func Negotiate(engine Engine, preferences []string) string {
	for _, m := range preferences {
		if engine.Supports(m) {
			return m
		}
	}
	return ""
}
