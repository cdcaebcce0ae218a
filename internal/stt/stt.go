// Package stt provides speech recognition via the Whisper
// transcription API. One attempt, no retry: a failed transcription
// degrades the turn to a placeholder transcript rather than blocking
// the conversation.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/miraii-health/elai-agent/internal/httpkit"
)

// ErrUnavailable means transcription could not run. Check with
// errors.Is; the chain carries the underlying cause.
var ErrUnavailable = errors.New("transcription unavailable")

// DefaultURL is the OpenAI Whisper transcription endpoint.
const DefaultURL = "https://api.openai.com/v1/audio/transcriptions"

// Model is the transcription model.
const Model = "whisper-1"

// RequestTimeout bounds one transcription request.
const RequestTimeout = 30 * time.Second

// Transcriber converts recorded audio into text.
type Transcriber struct {
	apiKey     string
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// Options configures a Transcriber.
type Options struct {
	APIKey     string
	URL        string // empty selects DefaultURL
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates a transcriber.
func New(opts Options) *Transcriber {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(RequestTimeout))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Transcriber{
		apiKey:     opts.APIKey,
		url:        opts.URL,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
}

// Available reports whether transcription has a credential to use.
func (t *Transcriber) Available() bool { return t.apiKey != "" }

// Transcribe uploads recorded audio and returns the recognized text.
// Any failure returns an error wrapping ErrUnavailable.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if t.apiKey == "" {
		return "", fmt.Errorf("transcribe: no api key configured: %w", ErrUnavailable)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("transcribe: empty audio: %w", ErrUnavailable)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := w.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w: %w", ErrUnavailable, err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("transcribe: %w: %w", ErrUnavailable, err)
	}
	if err := w.WriteField("model", Model); err != nil {
		return "", fmt.Errorf("transcribe: %w: %w", ErrUnavailable, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("transcribe: %w: %w", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, &body)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w: %w", ErrUnavailable, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		t.logger.Warn("transcription failed",
			"status", resp.StatusCode,
			"body", errBody,
		)
		return "", fmt.Errorf("transcribe: status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("transcribe: decode response: %w: %w", ErrUnavailable, err)
	}

	t.logger.Debug("audio transcribed", "bytes", len(audio), "chars", len(parsed.Text))
	return parsed.Text, nil
}
