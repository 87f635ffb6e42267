package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/noisefighter/internal/engine"
	"github.com/MrWong99/noisefighter/internal/events"
	"github.com/MrWong99/noisefighter/internal/observe"
	"github.com/MrWong99/noisefighter/internal/wav"
)

const (
	// defaultEventLimit is used when /api/events has no limit parameter.
	defaultEventLimit = 50

	// maxEventLimit caps the limit parameter.
	maxEventLimit = 1000

	// writeTimeout bounds a single WebSocket write.
	writeTimeout = 5 * time.Second

	// maxBodyBytes bounds control request bodies.
	maxBodyBytes = 4 << 10
)

// Controller is the engine's control surface.
type Controller interface {
	Status() engine.Status
	SetThreshold(v int) int
	StartRecording(path string) (engine.Recording, error)
	StopRecording() (engine.Recording, error)
}

// EventLister lists recent noise events.
type EventLister interface {
	Recent(ctx context.Context, limit int) ([]events.Event, error)
}

// Server serves the control API and the WebSocket feed.
type Server struct {
	ctrl   Controller
	events EventLister
	hub    *Hub

	// OriginPatterns is passed to the WebSocket handshake. Empty allows
	// same-origin clients only.
	OriginPatterns []string
}

// NewServer returns a Server. events may be nil, in which case /api/events
// returns an empty list.
func NewServer(ctrl Controller, ev EventLister, hub *Hub) *Server {
	return &Server{ctrl: ctrl, events: ev, hub: hub}
}

// Register adds the API and WebSocket routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/threshold", s.handleThreshold)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

type thresholdRequest struct {
	Threshold *int `json:"threshold"`
}

type thresholdResponse struct {
	Threshold int `json:"threshold"`
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Threshold == nil {
		writeError(w, http.StatusBadRequest, errors.New("threshold is required"))
		return
	}
	v := s.ctrl.SetThreshold(*req.Threshold)
	observe.Logger(r.Context()).Info("threshold set", "requested", *req.Threshold, "threshold", v)
	writeJSON(w, http.StatusOK, thresholdResponse{Threshold: v})
}

type recordingRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	rec, err := s.ctrl.StartRecording(req.Path)
	if err != nil {
		writeError(w, recordingStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, _ *http.Request) {
	rec, err := s.ctrl.StopRecording()
	if err != nil {
		writeError(w, recordingStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func recordingStatus(err error) int {
	switch {
	case errors.Is(err, wav.ErrAlreadyStarted), errors.Is(err, wav.ErrNotStarted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxEventLimit)
	}
	if s.events == nil {
		writeJSON(w, http.StatusOK, []events.Event{})
		return
	}
	evs, err := s.events.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("list events failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// handleWS upgrades the connection and streams hub messages until the client
// goes away. The first message is the current status.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.OriginPatterns,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	client := s.hub.Subscribe()
	defer s.hub.Unsubscribe(client)
	slog.Info("monitor client connected", "remote", r.RemoteAddr, "clients", s.hub.ClientCount())

	// Clients never send; CloseRead handles pings and close frames.
	ctx := conn.CloseRead(r.Context())

	if err := write(ctx, conn, Message{Type: TypeStatus, Data: s.ctrl.Status()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor client disconnected", "remote", r.RemoteAddr)
			return
		case msg := <-client.C:
			if err := write(ctx, conn, msg); err != nil {
				slog.Debug("monitor write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "err", err)
	}
}
