// Package server is the web control surface: it drives the recording
// state machine from a browser, streams live status over a websocket,
// and serves the transcription artifacts as downloads.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/audiolibrelab/humscore/internal/config"
	"github.com/audiolibrelab/humscore/internal/machine"
	"github.com/audiolibrelab/humscore/internal/present"
	"github.com/gorilla/websocket"
)

// Server exposes the machine over HTTP and WebSocket
type Server struct {
	cfg     *config.Config
	port    string
	machine *machine.Machine

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	score   string
}

// GenericResponse is the JSON shape of simple success/error answers
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// StatusResponse wraps a machine snapshot for the status endpoint
type StatusResponse struct {
	Snapshot machine.Snapshot `json:"snapshot"`
	HasScore bool             `json:"has_score"`
}

// StartRequest is the body of the record-start endpoint
type StartRequest struct {
	TakeName string `json:"take_name"`
}

// wsMessage is the envelope pushed to websocket clients
type wsMessage struct {
	Type     string            `json:"type"` // "snapshot" or "score"
	Snapshot *machine.Snapshot `json:"snapshot,omitempty"`
	MusicXML string            `json:"musicxml,omitempty"`
}

// New creates the server. Attach must be called before Start.
func New(cfg *config.Config, port string) *Server {
	if port == "" {
		port = cfg.Server.Port
	}
	return &Server{
		cfg:     cfg,
		port:    port,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			// The control UI is served from this same process on a
			// trusted network, like the rest of the endpoints.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Attach wires the machine and subscribes to its snapshots
func (s *Server) Attach(m *machine.Machine) {
	s.machine = m
	m.OnChange(func(snap machine.Snapshot) {
		s.broadcast(wsMessage{Type: "snapshot", Snapshot: &snap})
	})
}

// Render implements present.Renderer: the score is handed to connected
// browsers, which draw it client-side.
func (s *Server) Render(ctx context.Context, musicXML string) error {
	s.mu.Lock()
	s.score = musicXML
	s.mu.Unlock()

	s.broadcast(wsMessage{Type: "score", MusicXML: musicXML})
	return nil
}

var _ present.Renderer = (*Server)(nil)

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/record/start", s.handleStart)
	mux.HandleFunc("/api/record/stop", s.handleStop)
	mux.HandleFunc("/api/transcribe", s.handleTranscribe)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/score", s.handleScore)
	mux.HandleFunc("/api/download/midi", s.handleDownloadMIDI)
	mux.HandleFunc("/api/download/musicxml", s.handleDownloadMusicXML)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start runs the HTTP server (blocks)
func (s *Server) Start() error {
	if s.machine == nil {
		return fmt.Errorf("no machine attached")
	}

	addr := ":" + s.port
	if url := s.localURL(); url != "" {
		slog.Info("HumScore control server listening", "url", url)
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Duration(s.cfg.API.TimeoutSeconds+30) * time.Second,
	}
	return srv.ListenAndServe()
}

// localURL finds a LAN address so the page can be opened from a phone
func (s *Server) localURL() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return fmt.Sprintf("http://%s:%s", ipnet.IP.String(), s.port)
		}
	}
	return ""
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	hasScore := s.score != ""
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Snapshot: s.machine.Snapshot(),
		HasScore: hasScore,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req StartRequest
	if r.Body != nil {
		// Body is optional; an unnamed take gets a generated name
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	s.mu.Lock()
	s.score = ""
	s.mu.Unlock()

	// The recording outlives this request, so it must not run on the
	// request context.
	if err := s.machine.Start(context.Background(), req.TakeName); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "recording started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.machine.Stop(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "recording stopped"})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.machine.Transcribe(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "transcription complete"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	if err := s.machine.Reset(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.mu.Lock()
	s.score = ""
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "reset"})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	score := s.score
	s.mu.Unlock()

	if score == "" {
		if result := s.machine.Result(); result != nil {
			score = result.MusicXML
		}
	}
	if score == "" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", present.MusicXMLContentType)
	fmt.Fprint(w, score)
}

func (s *Server) handleDownloadMIDI(w http.ResponseWriter, r *http.Request) {
	s.serveDownload(w, r, present.MIDIContentType)
}

func (s *Server) handleDownloadMusicXML(w http.ResponseWriter, r *http.Request) {
	s.serveDownload(w, r, present.MusicXMLContentType)
}

func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request, contentType string) {
	for _, d := range s.machine.Downloads() {
		if d.ContentType != contentType {
			continue
		}
		w.Header().Set("Content-Type", d.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Name))
		w.Write(d.Data)
		return
	}
	http.NotFound(w, r)
}

// handleWebSocket streams snapshots (state changes and per-second
// elapsed ticks) to the browser.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	score := s.score
	s.mu.Unlock()

	// Prime the client before registering it for broadcasts, so the
	// connection never sees interleaved writers.
	snap := s.machine.Snapshot()
	conn.WriteJSON(wsMessage{Type: "snapshot", Snapshot: &snap})
	if score != "" {
		conn.WriteJSON(wsMessage{Type: "score", MusicXML: score})
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	// Reader loop only detects disconnect; clients never send data
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcast sends a message to every connected client
func (s *Server) broadcast(msg wsMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.clients {
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("dropping websocket client", "error", err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, GenericResponse{Success: false, Message: message})
}
