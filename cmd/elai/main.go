// Elai is the conversational health companion backend.
//
// It pairs a smart-ring wearer with a voice and text companion: chat
// turns flow through an LLM with a canned-response fallback, replies
// can carry care actions (breathing exercises, SOS alerts, symptom
// logging, follow-up check-ins, caregiver shares), and speech runs
// through pluggable synthesis and transcription providers.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	elai serve       Start the API server
//	elai version     Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/miraii-health/elai-agent/internal/actions"
	"github.com/miraii-health/elai-agent/internal/agent"
	"github.com/miraii-health/elai-agent/internal/api"
	"github.com/miraii-health/elai-agent/internal/buildinfo"
	"github.com/miraii-health/elai-agent/internal/config"
	"github.com/miraii-health/elai-agent/internal/events"
	"github.com/miraii-health/elai-agent/internal/llm"
	"github.com/miraii-health/elai-agent/internal/memory"
	"github.com/miraii-health/elai-agent/internal/mqtt"
	"github.com/miraii-health/elai-agent/internal/scheduler"
	"github.com/miraii-health/elai-agent/internal/stt"
	"github.com/miraii-health/elai-agent/internal/tts"
)

// main constructs the OS-level environment and delegates to [run] so
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the elai command. Arguments are
// parsed by hand; the surface is small enough that a CLI framework
// would add more than it removes, and the flag package's global state
// interferes with parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Elai - Health Companion Backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: elai [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve      Start the API server")
	fmt.Fprintln(w, "  version    Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/elai/config.yaml, /etc/elai/config.yaml")
	return nil
}

// runServe handles the "elai serve" subcommand. It loads config, opens
// the archive database, wires the agent pipeline, and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Elai",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.Model,
		"tts_provider", cfg.TTS.Provider,
	)

	// --- Data directory ---
	// The conversation archive, symptom diary, and check-in queue all
	// live in one SQLite database under this directory.
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Event bus ---
	// Components publish operational events; the MQTT notifier and
	// tests subscribe.
	bus := events.New()

	// --- Conversation memory ---
	store := memory.NewStore(cfg.Memory.MaxTurns)

	archivePath := filepath.Join(cfg.DataDir, "archive.db")
	archive, err := memory.NewArchiveStore(archivePath, logger)
	if err != nil {
		return fmt.Errorf("open archive store: %w", err)
	}
	defer archive.Close()
	logger.Info("archive database opened", "path", archivePath)

	// --- Check-in scheduler ---
	// Shares the archive database so check-ins participate in the same
	// backup lifecycle.
	schedStore, err := scheduler.NewStore(archive.DB())
	if err != nil {
		return fmt.Errorf("create checkin store: %w", err)
	}
	sched := scheduler.New(logger, schedStore, bus)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// --- Action dispatcher ---
	dispatcher := actions.NewDispatcher(logger, bus, archive, sched)

	// --- Providers ---
	if !cfg.LLM.Configured() {
		logger.Warn("llm api key not configured - canned responses only")
	}
	completer := llm.New(llm.Options{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		URL:         cfg.LLM.URL,
		FallbackURL: cfg.LLM.FallbackURL,
		Logger:      logger,
	})

	synth := tts.New(cfg.TTS, logger)

	// Whisper accepts the LLM credential when no dedicated key is set.
	sttKey := cfg.STT.APIKey
	if sttKey == "" {
		sttKey = cfg.LLM.APIKey
	}
	recognizer := stt.New(stt.Options{
		APIKey: sttKey,
		URL:    cfg.STT.URL,
		Logger: logger,
	})

	// --- Agent ---
	ag := agent.New(agent.Options{
		Logger:     logger,
		Bus:        bus,
		Store:      store,
		Archive:    archive,
		Completer:  completer,
		Synth:      synth,
		Recognizer: recognizer,
		Dispatcher: dispatcher,
	})

	// --- API server ---
	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(listen, ag, logger)
	server.SetArchiveStore(archive)
	server.SetScheduler(sched)

	// --- MQTT notifier ---
	// Optional: forwards SOS alerts, caregiver shares, and fired
	// check-ins to the broker, plus periodic telemetry.
	var notifier *mqtt.Notifier
	if cfg.MQTT.Enabled && cfg.MQTT.Broker != "" {
		notifier = mqtt.New(cfg.MQTT, bus, &mqttStatsAdapter{
			model: cfg.LLM.Model,
			store: store,
		}, logger)
		go func() {
			if err := notifier.Start(ctx); err != nil {
				logger.Error("mqtt notifier failed", "error", err)
			}
		}()
		logger.Info("mqtt notifications enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt notifications disabled")
	}

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if notifier != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := notifier.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Elai stopped")
	return nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output goes through slog; this helper standardizes the
// handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// mqttStatsAdapter bridges build info and the conversation store to
// the notifier's [mqtt.StatsSource] interface.
type mqttStatsAdapter struct {
	model string
	store *memory.Store
}

func (a *mqttStatsAdapter) Uptime() time.Duration { return buildinfo.Uptime() }
func (a *mqttStatsAdapter) Version() string       { return buildinfo.Version }
func (a *mqttStatsAdapter) Model() string         { return a.model }
func (a *mqttStatsAdapter) ActiveSessions() int   { return a.store.SessionCount() }
