// Package llm provides the chat completion client. It speaks the
// OpenAI chat-completions wire format to compatible endpoints and a
// minimal {"text": ...} format to anything else. The client never
// surfaces provider errors beyond ErrUnavailable: callers fall back to
// the canned responder and keep the conversation going.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miraii-health/elai-agent/internal/config"
	"github.com/miraii-health/elai-agent/internal/httpkit"
)

// ErrUnavailable means the completion backend could not produce a
// reply. Check with errors.Is; the chain carries the underlying cause
// for diagnostics.
var ErrUnavailable = errors.New("completion backend unavailable")

// DefaultURL is the standard OpenAI chat-completions endpoint, used
// when no URL is configured.
const DefaultURL = "https://api.openai.com/v1/chat/completions"

// Fixed generation parameters. Short, warm replies; never long essays.
const (
	Temperature = 0.7
	MaxTokens   = 500
)

// RequestTimeout bounds one completion request.
const RequestTimeout = 40 * time.Second

// Options configures a Client.
type Options struct {
	APIKey      string
	Model       string
	URL         string // empty selects DefaultURL
	FallbackURL string // tried exactly once on a 404 from the primary
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client is a chat completion client.
type Client struct {
	apiKey      string
	model       string
	url         string
	fallbackURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

// New creates a completion client.
func New(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(RequestTimeout))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		apiKey:      opts.APIKey,
		model:       opts.Model,
		url:         opts.URL,
		fallbackURL: opts.FallbackURL,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Available reports whether the client has a credential to use.
func (c *Client) Available() bool { return c.apiKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type textRequest struct {
	Text string `json:"text"`
}

// chatResponse covers both the OpenAI shape and the minimal custom
// backend shapes.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Reply string `json:"reply"`
	Text  string `json:"text"`
}

// openAICompatible reports whether the endpoint expects the full
// chat-completions payload.
func openAICompatible(url string) bool {
	return strings.Contains(url, "/chat/completions")
}

// Complete sends one turn to the completion backend and returns the
// raw reply text. A 404 from the primary endpoint is retried exactly
// once against the fallback URL; any other failure returns an error
// wrapping ErrUnavailable.
func (c *Client) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("complete: no api key configured: %w", ErrUnavailable)
	}

	body, err := c.encodeRequest(c.url, systemPrompt, userMessage)
	if err != nil {
		return "", fmt.Errorf("complete: %w: %w", ErrUnavailable, err)
	}

	c.logger.Debug("completion request", "url", c.url, "model", c.model)
	c.logger.Log(ctx, config.LevelTrace, "completion payload", "body", string(body))

	reply, status, err := c.post(ctx, c.url, body)
	if err != nil {
		return "", fmt.Errorf("complete: %w: %w", ErrUnavailable, err)
	}
	if status == http.StatusOK {
		return reply, nil
	}

	if status == http.StatusNotFound && c.fallbackURL != "" {
		c.logger.Warn("completion endpoint returned 404, retrying fallback",
			"url", c.url,
			"fallback", c.fallbackURL,
		)
		body, err = c.encodeRequest(c.fallbackURL, systemPrompt, userMessage)
		if err != nil {
			return "", fmt.Errorf("complete: %w: %w", ErrUnavailable, err)
		}
		reply, status, err = c.post(ctx, c.fallbackURL, body)
		if err != nil {
			return "", fmt.Errorf("complete fallback: %w: %w", ErrUnavailable, err)
		}
		if status == http.StatusOK {
			return reply, nil
		}
	}

	return "", fmt.Errorf("complete: status %d: %w", status, ErrUnavailable)
}

func (c *Client) encodeRequest(url, systemPrompt, userMessage string) ([]byte, error) {
	if openAICompatible(url) {
		return json.Marshal(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userMessage},
			},
			Temperature: Temperature,
			MaxTokens:   MaxTokens,
		})
	}
	// Custom backends take the bare user text.
	return json.Marshal(textRequest{Text: userMessage})
}

// post sends the request and, on 200, parses the reply. Non-200
// statuses are returned to the caller with an empty reply.
func (c *Client) post(ctx context.Context, url string, body []byte) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("post %s: %w", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		c.logger.Error("completion error",
			"url", url,
			"status", resp.StatusCode,
			"body", errBody,
		)
		return "", resp.StatusCode, nil
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var parsed chatResponse
	raw := new(bytes.Buffer)
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		return "", resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "completion response", "body", raw.String())

	if err := json.Unmarshal(raw.Bytes(), &parsed); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}

	switch {
	case len(parsed.Choices) > 0:
		return parsed.Choices[0].Message.Content, resp.StatusCode, nil
	case parsed.Reply != "":
		return parsed.Reply, resp.StatusCode, nil
	case parsed.Text != "":
		return parsed.Text, resp.StatusCode, nil
	default:
		// Unknown shape. Hand back the raw body rather than failing.
		return raw.String(), resp.StatusCode, nil
	}
}
