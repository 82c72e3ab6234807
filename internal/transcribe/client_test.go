package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/humscore/internal/capture"
)

func testArtifact() *capture.Artifact {
	return &capture.Artifact{Data: []byte{0xde, 0xad, 0xbe, 0xef}, MIME: "audio/webm;codecs=opus"}
}

func TestTranscribeSuccess(t *testing.T) {
	var gotPath, gotFilename, gotPartType string
	var gotBytes []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart field 'file': %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		gotPartType = header.Header.Get("Content-Type")
		gotBytes, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"musicxml": "<score/>", "midi_b64": "QQ==", "meta": {"duration_sec": 15}}`)
	}))
	defer srv.Close()

	client := New(srv.URL, 5*time.Second)
	result, err := client.Transcribe(context.Background(), testArtifact())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if gotPath != "/transcribe" {
		t.Errorf("expected POST to /transcribe, got %s", gotPath)
	}
	if gotFilename != "take.webm" {
		t.Errorf("expected filename take.webm, got %s", gotFilename)
	}
	if gotPartType != "audio/webm;codecs=opus" {
		t.Errorf("expected declared content type audio/webm;codecs=opus, got %s", gotPartType)
	}
	if string(gotBytes) != "\xde\xad\xbe\xef" {
		t.Errorf("artifact bytes corrupted in transit: %v", gotBytes)
	}

	if result.MusicXML != "<score/>" {
		t.Errorf("expected musicxml <score/>, got %q", result.MusicXML)
	}
	if len(result.MIDI) != 1 || result.MIDI[0] != 0x41 {
		t.Errorf("expected decoded MIDI [0x41], got %v", result.MIDI)
	}
	if result.Meta.DurationSec == nil || *result.Meta.DurationSec != 15 {
		t.Errorf("expected duration 15, got %v", result.Meta.DurationSec)
	}
}

func TestTranscribeDefaultsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if ct := header.Header.Get("Content-Type"); ct != "audio/webm" {
			t.Errorf("expected fallback content type audio/webm, got %s", ct)
		}
		io.WriteString(w, `{"musicxml": "<score/>", "midi_b64": "QQ==", "meta": {}}`)
	}))
	defer srv.Close()

	client := New(srv.URL, 5*time.Second)
	result, err := client.Transcribe(context.Background(), &capture.Artifact{Data: []byte{1}})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Meta.DurationSec != nil {
		t.Errorf("expected absent duration, got %v", *result.Meta.DurationSec)
	}
}

func TestTranscribeServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Expected audio/* upload", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(srv.URL, 5*time.Second)
	_, err := client.Transcribe(context.Background(), testArtifact())

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *ServiceError, got %v", err)
	}
	if svcErr.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", svcErr.Status)
	}
	if !strings.Contains(svcErr.Body, "Expected audio/* upload") {
		t.Errorf("expected verbatim body, got %q", svcErr.Body)
	}
}

func TestTranscribeMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing midi_b64", `{"musicxml": "<score/>", "meta": {}}`},
		{"missing musicxml", `{"midi_b64": "QQ==", "meta": {}}`},
		{"invalid base64", `{"musicxml": "<score/>", "midi_b64": "!!!", "meta": {}}`},
		{"not json", `<html>gateway error</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := New(srv.URL, 5*time.Second)
			_, err := client.Transcribe(context.Background(), testArtifact())
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestTranscribeNilArtifact(t *testing.T) {
	client := New("http://localhost:1", time.Second)
	if _, err := client.Transcribe(context.Background(), nil); err == nil {
		t.Error("expected error for nil artifact")
	}
}
