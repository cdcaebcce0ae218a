// Package tts provides speech synthesis. A Synthesizer is selected
// once at startup from configuration; callers hold the interface and
// never branch on provider names. Synthesis output is a transient
// temp-file artifact that the caller must release on every exit path.
package tts

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/miraii-health/elai-agent/internal/config"
)

// ErrUnavailable means synthesis is switched off or cannot run with
// the current configuration. Callers degrade to text-only replies.
var ErrUnavailable = errors.New("speech synthesis unavailable")

// Provider names accepted in configuration.
const (
	ProviderEdge       = "edge"
	ProviderElevenLabs = "elevenlabs"
	ProviderNone       = "none"
)

// Synthesizer converts reply text into an audio artifact.
type Synthesizer interface {
	// Synthesize renders text as speech. The caller owns the returned
	// artifact and must call Release on every exit path.
	Synthesize(ctx context.Context, text string) (*Artifact, error)
	// Provider returns the provider name for status reporting.
	Provider() string
	// Available reports whether synthesis can be attempted at all.
	Available() bool
}

// Artifact is a synthesized audio file on disk. Release removes the
// file; it is idempotent and safe to defer alongside an explicit call.
type Artifact struct {
	Path     string
	MIMEType string
	Size     int64

	release sync.Once
}

// Release deletes the artifact's backing file.
func (a *Artifact) Release() {
	if a == nil {
		return
	}
	a.release.Do(func() {
		_ = os.Remove(a.Path)
	})
}

// newArtifact stats the written file and wraps it.
func newArtifact(path, mimeType string) *Artifact {
	a := &Artifact{Path: path, MIMEType: mimeType}
	if fi, err := os.Stat(path); err == nil {
		a.Size = fi.Size()
	}
	return a
}

// New selects a synthesizer from configuration. Unknown provider names
// log a warning and fall back to the edge synthesizer. The returned
// synthesizer is fixed for the process lifetime.
func New(cfg config.TTSConfig, logger *slog.Logger) Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Provider {
	case ProviderNone:
		return &noneSynthesizer{}
	case ProviderElevenLabs:
		if cfg.ElevenAPIKey == "" {
			logger.Warn("elevenlabs selected but no api key configured, synthesis disabled")
		}
		return newElevenLabs(cfg.ElevenAPIKey, cfg.ElevenVoiceID, logger)
	case ProviderEdge, "":
		return newEdge(cfg.EdgeVoice, logger)
	default:
		logger.Warn("unknown tts provider, using edge", "provider", cfg.Provider)
		return newEdge(cfg.EdgeVoice, logger)
	}
}
