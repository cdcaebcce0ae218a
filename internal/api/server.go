// Package api implements the HTTP surface of the companion backend.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/miraii-health/elai-agent/internal/actions"
	"github.com/miraii-health/elai-agent/internal/agent"
	"github.com/miraii-health/elai-agent/internal/buildinfo"
	"github.com/miraii-health/elai-agent/internal/health"
	"github.com/miraii-health/elai-agent/internal/memory"
	"github.com/miraii-health/elai-agent/internal/scheduler"
)

// MaxAudioBytes caps uploaded voice clips. Ring recordings are short;
// anything larger is rejected rather than buffered.
const MaxAudioBytes = 10 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	listen  string
	agent   *agent.Agent
	archive *memory.ArchiveStore
	sched   *scheduler.Scheduler
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server. The archive and scheduler are
// optional; their endpoints answer 503 when not configured.
func NewServer(listen string, ag *agent.Agent, logger *slog.Logger) *Server {
	return &Server{
		listen: listen,
		agent:  ag,
		logger: logger,
	}
}

// SetArchiveStore configures the archive store for archive endpoints.
func (s *Server) SetArchiveStore(as *memory.ArchiveStore) {
	s.archive = as
}

// SetScheduler configures the check-in scheduler for checkin endpoints.
func (s *Server) SetScheduler(sc *scheduler.Scheduler) {
	s.sched = sc
}

// Handler builds the route table. Exposed for httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Conversation endpoints
	mux.HandleFunc("POST /elai/chat", s.handleChat)
	mux.HandleFunc("POST /elai/voice", s.handleVoice)
	mux.HandleFunc("POST /elai/tts", s.handleTTS)
	mux.HandleFunc("POST /elai/action", s.handleAction)
	mux.HandleFunc("GET /elai/conversations", s.handleConversationList)
	mux.HandleFunc("GET /elai/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /elai/conversations/{id}", s.handleConversationDelete)

	// Wellness content
	mux.HandleFunc("GET /elai/exercises/breathing", s.handleBreathing)

	// Archive endpoints
	mux.HandleFunc("GET /elai/archive/sessions", s.handleArchiveSessions)
	mux.HandleFunc("GET /elai/archive/sessions/{id}", s.handleArchiveSessionGet)
	mux.HandleFunc("GET /elai/archive/symptoms", s.handleArchiveSymptoms)

	// Check-ins
	mux.HandleFunc("GET /elai/checkins", s.handleCheckIns)

	// Status endpoints
	mux.HandleFunc("GET /elai/status", s.handleStatus)
	mux.HandleFunc("GET /elai/", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// --- Conversation handlers ---

// ChatRequest is one inbound text message from the companion app.
type ChatRequest struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UserName       string         `json:"user_name,omitempty"`
	MetricsContext map[string]any `json:"metrics_context,omitempty"`
}

// ChatResponse is the reply to a chat turn. TTSAvailable is always
// present so the client knows whether a follow-up synthesis request
// can succeed.
type ChatResponse struct {
	Response       string                 `json:"response"`
	ConversationID string                 `json:"conversation_id"`
	Fallback       bool                   `json:"fallback,omitempty"`
	TTSAvailable   bool                   `json:"tts_available"`
	ActionsTaken   []actions.StatusRecord `json:"actions_taken,omitempty"`
}

// VoiceResponse extends ChatResponse with the transcript and the
// synthesized reply audio. AudioAvailable is explicit so clients never
// have to infer synthesis failure from a missing field.
type VoiceResponse struct {
	ChatResponse
	Transcript     string `json:"transcript"`
	AudioAvailable bool   `json:"audio_available"`
	AudioBase64    string `json:"audio_base64,omitempty"`
	AudioMIME      string `json:"audio_mime,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = agent.NewConversationID()
	}

	res := s.agent.TextTurn(r.Context(), agent.TurnRequest{
		ConversationID: convID,
		Message:        req.Message,
		UserName:       req.UserName,
		Metrics:        health.Snapshot(req.MetricsContext),
	})

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Response:       res.Reply,
		ConversationID: convID,
		Fallback:       res.Fallback,
		TTSAvailable:   s.agent.Capabilities()["tts_available"],
		ActionsTaken:   s.dispatchAll(r.Context(), convID, res.Actions),
	}, s.logger)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxAudioBytes); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, MaxAudioBytes))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "read audio: "+err.Error())
		return
	}

	convID := r.FormValue("conversation_id")
	if convID == "" {
		convID = agent.NewConversationID()
	}

	var metrics health.Snapshot
	if mc := r.FormValue("metrics_context"); mc != "" {
		if err := json.Unmarshal([]byte(mc), &metrics); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid metrics_context")
			return
		}
	}

	res := s.agent.VoiceTurn(r.Context(), agent.VoiceRequest{
		ConversationID: convID,
		Audio:          audio,
		UserName:       r.FormValue("user_name"),
		Metrics:        metrics,
	})

	resp := VoiceResponse{
		ChatResponse: ChatResponse{
			Response:       res.Reply,
			ConversationID: convID,
			Fallback:       res.Fallback,
			TTSAvailable:   s.agent.Capabilities()["tts_available"],
			ActionsTaken:   s.dispatchAll(r.Context(), convID, res.Actions),
		},
		Transcript: res.Transcript,
	}

	if res.Audio != nil {
		defer res.Audio.Release()
		if data, err := os.ReadFile(res.Audio.Path); err != nil {
			s.logger.Warn("read synthesis artifact failed", "error", err)
		} else {
			resp.AudioAvailable = true
			resp.AudioBase64 = base64.StdEncoding.EncodeToString(data)
			resp.AudioMIME = res.Audio.MIMEType
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// TTSRequest asks for a standalone speech rendering.
type TTSRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	art, err := s.agent.Synthesize(r.Context(), req.Text)
	if err != nil || art == nil {
		if err != nil {
			s.logger.Warn("synthesis failed", "error", err)
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]string{"status": "tts_unavailable"}, s.logger)
		return
	}
	defer art.Release()

	data, err := os.ReadFile(art.Path)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "read artifact: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", art.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("failed to write audio response", "error", err)
	}
}

// ActionRequest dispatches one action directly, outside a turn.
type ActionRequest struct {
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"`
	Data           string `json:"data,omitempty"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		s.errorResponse(w, http.StatusBadRequest, "type is required")
		return
	}

	act := actions.Action{Type: req.Type, Timestamp: time.Now()}
	if req.Data != "" {
		act.Data = &req.Data
	}
	rec := s.agent.ExecuteAction(r.Context(), req.ConversationID, act)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, rec, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	sessions := s.agent.Sessions()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversations": sessions,
		"count":         len(sessions),
	}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns := s.agent.History(id)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation_id": id,
		"turns":           turns,
		"count":           len(turns),
	}, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.agent.Clear(id)
	s.logger.Info("conversation cleared via API", "conversation_id", id)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":          "cleared",
		"conversation_id": id,
	}, s.logger)
}

// dispatchAll runs every extracted action through the dispatcher.
func (s *Server) dispatchAll(ctx context.Context, conversationID string, acts []actions.Action) []actions.StatusRecord {
	if len(acts) == 0 {
		return nil
	}
	records := make([]actions.StatusRecord, 0, len(acts))
	for _, act := range acts {
		records = append(records, s.agent.ExecuteAction(ctx, conversationID, act))
	}
	return records
}

// --- Wellness content ---

// BreathingPhase is one step of a guided breathing cycle.
type BreathingPhase struct {
	Name    string `json:"name"`
	Seconds int    `json:"seconds"`
}

// BreathingExercise describes one guided breathing pattern.
type BreathingExercise struct {
	Type         string           `json:"type"`
	Title        string           `json:"title"`
	Phases       []BreathingPhase `json:"phases"`
	Cycles       int              `json:"cycles"`
	TotalSeconds int              `json:"total_seconds"`
}

var breathingCatalog = map[string]BreathingExercise{
	"4-7-8": {
		Type:  "4-7-8",
		Title: "4-7-8 Relaxing Breath",
		Phases: []BreathingPhase{
			{Name: "inhale", Seconds: 4},
			{Name: "hold", Seconds: 7},
			{Name: "exhale", Seconds: 8},
		},
		Cycles:       4,
		TotalSeconds: 76,
	},
	"box": {
		Type:  "box",
		Title: "Box Breathing",
		Phases: []BreathingPhase{
			{Name: "inhale", Seconds: 4},
			{Name: "hold", Seconds: 4},
			{Name: "exhale", Seconds: 4},
			{Name: "hold", Seconds: 4},
		},
		Cycles:       4,
		TotalSeconds: 64,
	},
	"calming": {
		Type:  "calming",
		Title: "Calming Breath",
		Phases: []BreathingPhase{
			{Name: "inhale", Seconds: 4},
			{Name: "exhale", Seconds: 6},
		},
		Cycles:       6,
		TotalSeconds: 60,
	},
}

func (s *Server) handleBreathing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if typ := r.URL.Query().Get("type"); typ != "" {
		ex, ok := breathingCatalog[typ]
		if !ok {
			s.errorResponse(w, http.StatusNotFound, "unknown exercise type: "+typ)
			return
		}
		writeJSON(w, ex, s.logger)
		return
	}

	out := make([]BreathingExercise, 0, len(breathingCatalog))
	for _, typ := range []string{"4-7-8", "box", "calming"} {
		out = append(out, breathingCatalog[typ])
	}
	writeJSON(w, map[string]any{
		"exercises": out,
		"count":     len(out),
	}, s.logger)
}

// --- Archive handlers ---

func (s *Server) handleArchiveSessions(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}

	sessions, err := s.archive.Sessions(parseIntParam(r, "limit", 50))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "list sessions: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}, s.logger)
}

func (s *Server) handleArchiveSessionGet(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}

	id := r.PathValue("id")
	turns, err := s.archive.SessionTurns(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "get session: "+err.Error())
		return
	}
	if len(turns) == 0 {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation_id": id,
		"turns":           turns,
		"count":           len(turns),
	}, s.logger)
}

func (s *Server) handleArchiveSymptoms(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}

	entries, err := s.archive.Symptoms(
		r.URL.Query().Get("conversation_id"),
		parseIntParam(r, "limit", 50),
	)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "list symptoms: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"symptoms": entries,
		"count":    len(entries),
	}, s.logger)
}

// --- Check-in handlers ---

func (s *Server) handleCheckIns(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}

	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		s.errorResponse(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	checkins, err := s.sched.List(convID, parseIntParam(r, "limit", 50))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "list checkins: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"checkins": checkins,
		"count":    len(checkins),
	}, s.logger)
}

// --- Status handlers ---

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Elai",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"capabilities": s.agent.Capabilities(),
		"memory":       s.agent.Stats(),
		"uptime":       buildinfo.Uptime().Truncate(time.Second).String(),
		"build":        buildinfo.Info(),
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
