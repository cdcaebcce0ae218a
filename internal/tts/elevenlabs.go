package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/miraii-health/elai-agent/internal/httpkit"
)

// ElevenLabs defaults.
const (
	elevenBaseURL      = "https://api.elevenlabs.io/v1/text-to-speech"
	elevenModel        = "eleven_multilingual_v2"
	DefaultElevenVoice = "21m00Tcm4TlvDq8ikWAM"

	elevenTimeout = 30 * time.Second
)

// elevenVoiceSettings are tuned once for the companion's register:
// consistent, natural, slightly expressive.
type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

type elevenSynthesizer struct {
	apiKey     string
	voiceID    string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func newElevenLabs(apiKey, voiceID string, logger *slog.Logger) *elevenSynthesizer {
	if voiceID == "" {
		voiceID = DefaultElevenVoice
	}
	return &elevenSynthesizer{
		apiKey:     apiKey,
		voiceID:    voiceID,
		baseURL:    elevenBaseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(elevenTimeout)),
		logger:     logger,
	}
}

func (e *elevenSynthesizer) Provider() string { return ProviderElevenLabs }

func (e *elevenSynthesizer) Available() bool { return e.apiKey != "" }

func (e *elevenSynthesizer) Synthesize(ctx context.Context, text string) (*Artifact, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: no api key: %w", ErrUnavailable)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("elevenlabs: empty text: %w", ErrUnavailable)
	}

	body, err := json.Marshal(elevenRequest{
		Text:    text,
		ModelID: elevenModel,
		VoiceSettings: elevenVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Style:           0.3,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	url := e.baseURL + "/" + e.voiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: post: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		e.logger.Warn("elevenlabs synthesis failed",
			"status", resp.StatusCode,
			"body", errBody,
		)
		return nil, fmt.Errorf("elevenlabs: status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	f, err := os.CreateTemp("", "elai-tts-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("elevenlabs: write audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("elevenlabs: close audio: %w", err)
	}

	art := newArtifact(f.Name(), "audio/mpeg")
	e.logger.Info("elevenlabs audio generated", "path", art.Path, "bytes", art.Size)
	return art, nil
}
