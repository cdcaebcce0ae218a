// Package agent orchestrates conversation turns: prompt assembly,
// completion with canned fallback, action extraction, memory updates,
// and the voice pipeline around them.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miraii-health/elai-agent/internal/actions"
	"github.com/miraii-health/elai-agent/internal/events"
	"github.com/miraii-health/elai-agent/internal/health"
	"github.com/miraii-health/elai-agent/internal/memory"
	"github.com/miraii-health/elai-agent/internal/prompts"
	"github.com/miraii-health/elai-agent/internal/tts"
)

// PlaceholderTranscript stands in for the user's words when
// transcription fails; the turn still proceeds so the companion can
// respond to the attempt.
const PlaceholderTranscript = "[Voice message received - transcription unavailable]"

// Completer produces a reply from a system prompt and user message.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
	Available() bool
	Model() string
}

// Recognizer converts recorded audio to text.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Available() bool
}

// Agent ties the conversation pipeline together. The archive is
// optional; a nil archive keeps turns in memory only.
type Agent struct {
	logger     *slog.Logger
	bus        *events.Bus
	store      *memory.Store
	archive    *memory.ArchiveStore
	completer  Completer
	synth      tts.Synthesizer
	recognizer Recognizer
	dispatcher *actions.Dispatcher
}

// Options configures an Agent.
type Options struct {
	Logger     *slog.Logger
	Bus        *events.Bus
	Store      *memory.Store
	Archive    *memory.ArchiveStore
	Completer  Completer
	Synth      tts.Synthesizer
	Recognizer Recognizer
	Dispatcher *actions.Dispatcher
}

// New creates an Agent.
func New(opts Options) *Agent {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = memory.NewStore(0)
	}
	return &Agent{
		logger:     opts.Logger,
		bus:        opts.Bus,
		store:      opts.Store,
		archive:    opts.Archive,
		completer:  opts.Completer,
		synth:      opts.Synth,
		recognizer: opts.Recognizer,
		dispatcher: opts.Dispatcher,
	}
}

// NewConversationID generates a fresh conversation id.
func NewConversationID() string {
	return "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// TurnRequest is one inbound text turn.
type TurnRequest struct {
	ConversationID string
	Message        string
	UserName       string
	Metrics        health.Snapshot // nil keeps the stored snapshot
}

// TurnResult is the outcome of a text turn.
type TurnResult struct {
	ConversationID string
	Reply          string
	Actions        []actions.Action
	Fallback       bool
}

// TextTurn runs one text conversation turn. It never fails: when the
// completion backend is unavailable, the canned responder answers and
// the turn is recorded like any other.
func (a *Agent) TextTurn(ctx context.Context, req TurnRequest) TurnResult {
	start := time.Now()
	a.publish(events.SourceAgent, events.KindTurnStart, map[string]any{
		"conversation_id": req.ConversationID,
		"mode":            "text",
	})

	// Prompt context reflects the conversation before this turn.
	history := a.store.History(req.ConversationID)
	snap := req.Metrics
	if snap == nil {
		snap = a.store.Snapshot(req.ConversationID)
	}
	prompt := prompts.Build(req.UserName, snap, history)

	res := TurnResult{ConversationID: req.ConversationID}

	a.publish(events.SourceAgent, events.KindLLMCall, map[string]any{
		"conversation_id": req.ConversationID,
		"model":           a.completer.Model(),
	})

	reply, err := a.completer.Complete(ctx, prompt, req.Message)
	if err != nil {
		a.logger.Warn("completion unavailable, using canned responder",
			"conversation_id", req.ConversationID,
			"error", err,
		)
		a.publish(events.SourceAgent, events.KindLLMFallback, map[string]any{
			"conversation_id": req.ConversationID,
		})
		res.Reply = FallbackReply(req.Message)
		res.Fallback = true
	} else {
		clean, acts := actions.Extract(reply)
		res.Reply = clean
		res.Actions = acts
		for _, act := range acts {
			a.publish(events.SourceAgent, events.KindActionExtracted, map[string]any{
				"conversation_id": req.ConversationID,
				"action":          act.Type,
				"data":            act.Data,
			})
		}
	}

	a.record(req.ConversationID, memory.Turn{Role: "user", Content: req.Message})
	assistantTurn := memory.Turn{Role: "assistant", Content: res.Reply}
	if len(res.Actions) > 0 {
		assistantTurn.Metadata = map[string]any{"actions": res.Actions}
	}
	a.record(req.ConversationID, assistantTurn)

	if req.Metrics != nil {
		a.store.SetSnapshot(req.ConversationID, req.Metrics)
	}

	a.publish(events.SourceAgent, events.KindTurnComplete, map[string]any{
		"conversation_id": req.ConversationID,
		"mode":            "text",
		"actions":         len(res.Actions),
		"elapsed_ms":      time.Since(start).Milliseconds(),
	})
	a.logger.Info("turn complete",
		"conversation_id", req.ConversationID,
		"fallback", res.Fallback,
		"actions", len(res.Actions),
	)
	return res
}

// VoiceRequest is one inbound voice turn.
type VoiceRequest struct {
	ConversationID string
	Audio          []byte
	UserName       string
	Metrics        health.Snapshot
}

// VoiceResult is the outcome of a voice turn. Audio is nil when
// synthesis is off or failed; when non-nil the caller owns it and must
// call Release.
type VoiceResult struct {
	ConversationID string
	Transcript     string
	Reply          string
	Actions        []actions.Action
	Fallback       bool
	Audio          *tts.Artifact
}

// VoiceTurn transcribes audio, runs a text turn on the transcript, and
// synthesizes the reply.
func (a *Agent) VoiceTurn(ctx context.Context, req VoiceRequest) VoiceResult {
	transcript, err := a.recognizer.Transcribe(ctx, req.Audio)
	if err != nil {
		a.logger.Warn("transcription failed, using placeholder",
			"conversation_id", req.ConversationID,
			"error", err,
		)
		transcript = PlaceholderTranscript
	}

	turn := a.TextTurn(ctx, TurnRequest{
		ConversationID: req.ConversationID,
		Message:        transcript,
		UserName:       req.UserName,
		Metrics:        req.Metrics,
	})

	res := VoiceResult{
		ConversationID: req.ConversationID,
		Transcript:     transcript,
		Reply:          turn.Reply,
		Actions:        turn.Actions,
		Fallback:       turn.Fallback,
	}

	audio, err := a.Synthesize(ctx, turn.Reply)
	if err != nil {
		a.logger.Warn("reply synthesis failed, returning text only",
			"conversation_id", req.ConversationID,
			"error", err,
		)
	} else {
		res.Audio = audio
	}
	return res
}

// Synthesize renders text as speech with the configured provider. The
// caller owns the artifact.
func (a *Agent) Synthesize(ctx context.Context, text string) (*tts.Artifact, error) {
	art, err := a.synth.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	a.publish(events.SourceSpeech, events.KindSpeechSynthesized, map[string]any{
		"provider": a.synth.Provider(),
		"bytes":    art.Size,
	})
	return art, nil
}

// ExecuteAction dispatches one action and returns its status record.
func (a *Agent) ExecuteAction(ctx context.Context, conversationID string, act actions.Action) actions.StatusRecord {
	return a.dispatcher.Dispatch(ctx, conversationID, act)
}

// History returns the retained turns for a conversation.
func (a *Agent) History(conversationID string) []memory.Turn {
	return a.store.History(conversationID)
}

// Clear drops a conversation's history and snapshot.
func (a *Agent) Clear(conversationID string) {
	a.store.Clear(conversationID)
}

// Sessions lists the live conversations held in memory.
func (a *Agent) Sessions() []memory.SessionInfo {
	return a.store.Sessions()
}

// Stats returns live memory statistics.
func (a *Agent) Stats() map[string]any {
	return a.store.Stats()
}

// Capabilities reports which providers can currently be used.
func (a *Agent) Capabilities() map[string]bool {
	return map[string]bool{
		"llm_available": a.completer.Available(),
		"tts_available": a.synth.Available(),
		"stt_available": a.recognizer.Available(),
	}
}

// record appends a turn to live memory and, when configured, the
// archive.
func (a *Agent) record(conversationID string, t memory.Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	a.store.Append(conversationID, t)
	if a.archive != nil {
		if err := a.archive.RecordTurn(conversationID, t); err != nil {
			a.logger.Error("archive write failed",
				"conversation_id", conversationID,
				"error", err,
			)
		}
	}
}

func (a *Agent) publish(source, kind string, data map[string]any) {
	a.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}
