package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/humscore/internal/capture"
	"github.com/audiolibrelab/humscore/internal/config"
	"github.com/audiolibrelab/humscore/internal/machine"
	"github.com/audiolibrelab/humscore/internal/present"
	"github.com/audiolibrelab/humscore/internal/transcribe"
	"github.com/gorilla/websocket"
)

type fakeStream struct{}

func (fakeStream) Source() string { return "" }
func (fakeStream) Release() error { return nil }

type fakeMicrophone struct{}

func (fakeMicrophone) Acquire(ctx context.Context) (capture.Stream, error) {
	return fakeStream{}, nil
}

type fakeEngine struct{}

func (fakeEngine) Supports(mimeType string) bool { return mimeType == "audio/webm" }

func (fakeEngine) Begin(ctx context.Context, stream capture.Stream, mimeType string, onChunk func([]byte)) error {
	onChunk([]byte{0x1a, 0x45, 0xdf, 0xa3})
	return nil
}

func (fakeEngine) Finish() (string, error) { return "audio/webm", nil }

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, artifact *capture.Artifact) (*transcribe.Result, error) {
	return &transcribe.Result{MusicXML: "<score/>", MIDI: []byte{0x4d}}, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(config.Default(), "0")
	m := machine.New(machine.Options{
		Microphone:   fakeMicrophone{},
		Engine:       fakeEngine{},
		Client:       fakeTranscriber{},
		Presenter:    present.New(srv),
		LimitSeconds: 15,
		TickInterval: time.Millisecond,
	})
	srv.Attach(m)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func post(t *testing.T, url string, body string) (*http.Response, GenericResponse) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	resp, err := http.Post(url, "application/json", r)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	var generic GenericResponse
	json.NewDecoder(resp.Body).Decode(&generic)
	return resp, generic
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if status.Snapshot.State != machine.StateIdle {
		t.Errorf("expected Idle, got %s", status.Snapshot.State)
	}
	if !status.Snapshot.Projection.CanRecord {
		t.Error("record must be enabled while idle")
	}
	if status.HasScore {
		t.Error("no score before any transcription")
	}
}

func TestRecordTranscribeFlow(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := post(t, ts.URL+"/api/record/start", `{"take_name": "web take"}`)
	if resp.StatusCode != http.StatusOK || !body.Success {
		t.Fatalf("start failed: %d %s", resp.StatusCode, body.Message)
	}

	// Starting again while recording is a conflict
	resp, _ = post(t, ts.URL+"/api/record/start", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for double start, got %d", resp.StatusCode)
	}

	resp, _ = post(t, ts.URL+"/api/record/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop failed: %d", resp.StatusCode)
	}

	resp, _ = post(t, ts.URL+"/api/transcribe", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transcribe failed: %d", resp.StatusCode)
	}

	// The score is now served both inline and as downloads
	scoreResp, err := http.Get(ts.URL + "/api/score")
	if err != nil {
		t.Fatal(err)
	}
	defer scoreResp.Body.Close()
	score, _ := io.ReadAll(scoreResp.Body)
	if string(score) != "<score/>" {
		t.Errorf("unexpected score body: %s", score)
	}

	midiResp, err := http.Get(ts.URL + "/api/download/midi")
	if err != nil {
		t.Fatal(err)
	}
	defer midiResp.Body.Close()
	if midiResp.StatusCode != http.StatusOK {
		t.Fatalf("midi download failed: %d", midiResp.StatusCode)
	}
	if cd := midiResp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("expected attachment disposition, got %q", cd)
	}
	data, _ := io.ReadAll(midiResp.Body)
	if len(data) != 1 || data[0] != 0x4d {
		t.Errorf("unexpected midi bytes: %v", data)
	}
}

func TestMethodGuards(t *testing.T) {
	_, ts := newTestServer(t)

	for _, path := range []string{"/api/record/start", "/api/record/stop", "/api/transcribe", "/api/reset"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("GET %s: expected 405, got %d", path, resp.StatusCode)
		}
	}
}

func TestDownloadsBeforeTranscription(t *testing.T) {
	_, ts := newTestServer(t)

	for _, path := range []string{"/api/score", "/api/download/midi", "/api/download/musicxml"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestResetClearsScore(t *testing.T) {
	_, ts := newTestServer(t)

	post(t, ts.URL+"/api/record/start", "")
	post(t, ts.URL+"/api/record/stop", "")
	post(t, ts.URL+"/api/transcribe", "")

	resp, _ := post(t, ts.URL+"/api/reset", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset failed: %d", resp.StatusCode)
	}

	scoreResp, err := http.Get(ts.URL + "/api/score")
	if err != nil {
		t.Fatal(err)
	}
	scoreResp.Body.Close()
	if scoreResp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after reset, got %d", scoreResp.StatusCode)
	}
}

func TestWebSocketPushesSnapshots(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	// The first message primes the client with the current snapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != "snapshot" || msg.Snapshot == nil || msg.Snapshot.State != machine.StateIdle {
		t.Fatalf("unexpected priming message: %+v", msg)
	}

	// A state change reaches the client as a fresh snapshot
	post(t, ts.URL+"/api/record/start", "")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if msg.Type == "snapshot" && msg.Snapshot.State == machine.StateRecording {
			return
		}
	}
	t.Fatal("never observed a Recording snapshot over the websocket")
}
