// Package config handles Elai configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/elai/config.yaml, /etc/elai/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "elai", "config.yaml"))
	}

	paths = append(paths, "/etc/elai/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Elai configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	STT      STTConfig      `yaml:"stt"`
	Memory   MemoryConfig   `yaml:"memory"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines the text-generation backend.
type LLMConfig struct {
	// APIKey authenticates against the completion endpoint.
	APIKey string `yaml:"api_key"`
	// Model is the completion model name.
	Model string `yaml:"model"`
	// URL is the primary chat-completions endpoint. Empty selects the
	// standard OpenAI endpoint.
	URL string `yaml:"url"`
	// FallbackURL is tried exactly once when the primary returns 404.
	FallbackURL string `yaml:"fallback_url"`
}

// Configured reports whether text generation has a usable credential.
func (c LLMConfig) Configured() bool {
	return c.APIKey != ""
}

// TTSConfig defines speech-synthesis settings.
type TTSConfig struct {
	// Provider selects the synthesizer: "edge", "elevenlabs", or "none".
	Provider string `yaml:"provider"`
	// EdgeVoice is the Edge neural voice name (default en-US-JennyNeural).
	EdgeVoice string `yaml:"edge_voice"`
	// ElevenAPIKey authenticates against ElevenLabs. Required for the
	// "elevenlabs" provider.
	ElevenAPIKey string `yaml:"eleven_api_key"`
	// ElevenVoiceID is the ElevenLabs voice id.
	ElevenVoiceID string `yaml:"eleven_voice_id"`
}

// STTConfig defines speech-recognition settings.
type STTConfig struct {
	// APIKey authenticates against the transcription endpoint. When empty
	// the LLM key is used (Whisper accepts the same credential).
	APIKey string `yaml:"api_key"`
	// URL overrides the transcription endpoint, mainly for tests.
	URL string `yaml:"url"`
}

// MemoryConfig bounds the in-memory conversation store.
type MemoryConfig struct {
	// MaxTurns caps turns retained per session. Oldest turns are dropped
	// first. Default 20.
	MaxTurns int `yaml:"max_turns"`
}

// MQTTConfig defines the optional companion-telemetry broker connection.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // e.g. mqtt://broker.local:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"` // topic segment, default "elai"
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so keys can live outside the file.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		LLM: LLMConfig{
			Model: "gpt-4o",
		},
		TTS: TTSConfig{
			Provider:      "edge",
			EdgeVoice:     "en-US-JennyNeural",
			ElevenVoiceID: "21m00Tcm4TlvDq8ikWAM",
		},
		Memory: MemoryConfig{MaxTurns: 20},
		MQTT: MQTTConfig{
			DeviceName:         "elai",
			PublishIntervalSec: 60,
		},
	}
}
