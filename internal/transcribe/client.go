// Package transcribe is the client for the external melody
// transcription service.
package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/audiolibrelab/humscore/internal/capture"
)

const (
	transcribePath = "/transcribe"
	uploadField    = "file"
	uploadFilename = "take.webm"
	fallbackMIME   = "audio/webm"
)

// ErrMalformedResponse marks a 2xx response whose body is missing
// required fields or carries an undecodable payload.
var ErrMalformedResponse = errors.New("malformed transcription response")

// ServiceError is a non-2xx answer from the service. The body is kept
// verbatim as diagnostic detail.
type ServiceError struct {
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("transcription service returned %d", e.Status)
	}
	return fmt.Sprintf("transcription service returned %d: %s", e.Status, body)
}

// Meta is the metadata object of a transcription response.
// DurationSec is genuinely optional; nil means the service did not
// report one.
type Meta struct {
	DurationSec *float64 `json:"duration_sec"`
}

// Result is one successful transcription: the score document, the
// decoded MIDI bytes, and metadata. Consumed once by the presenter.
type Result struct {
	MusicXML string
	MIDI     []byte
	Meta     Meta
}

type responseBody struct {
	MusicXML string `json:"musicxml"`
	MIDIB64  string `json:"midi_b64"`
	Meta     Meta   `json:"meta"`
}

// Client talks to one transcription service instance
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the service at baseURL
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads the artifact and interprets the response. There is
// no retry policy: a failure surfaces immediately and the caller may
// re-invoke with the same artifact.
func (c *Client) Transcribe(ctx context.Context, artifact *capture.Artifact) (*Result, error) {
	if artifact == nil || artifact.Size() == 0 {
		return nil, fmt.Errorf("no audio artifact to transcribe")
	}

	body, contentType, err := buildUpload(artifact)
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	url := c.baseURL + transcribePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	slog.Info("uploading recording for transcription", "url", url, "bytes", artifact.Size(), "mime", artifact.MIME)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(resp.Body)
		return nil, &ServiceError{Status: resp.StatusCode, Body: string(detail)}
	}

	return decodeResult(resp.Body)
}

// buildUpload packages the artifact as a multipart form with the fixed
// field name and filename the service expects.
func buildUpload(artifact *capture.Artifact) (*bytes.Buffer, string, error) {
	declaredMIME := artifact.MIME
	if declaredMIME == "" {
		declaredMIME = fallbackMIME
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadField, uploadFilename))
	header.Set("Content-Type", declaredMIME)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(artifact.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	return &buf, mw.FormDataContentType(), nil
}

// decodeResult parses a 2xx body and decodes the MIDI payload
func decodeResult(r io.Reader) (*Result, error) {
	var body responseBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if body.MusicXML == "" {
		return nil, fmt.Errorf("%w: missing musicxml", ErrMalformedResponse)
	}
	if body.MIDIB64 == "" {
		return nil, fmt.Errorf("%w: missing midi_b64", ErrMalformedResponse)
	}

	midi, err := base64.StdEncoding.DecodeString(body.MIDIB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid midi_b64: %v", ErrMalformedResponse, err)
	}

	return &Result{MusicXML: body.MusicXML, MIDI: midi, Meta: body.Meta}, nil
}
