// Command moksori is the main entry point for the Moksori virtual streamer
// engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/moksori-live/moksori/internal/app"
	"github.com/moksori-live/moksori/internal/config"
	"github.com/moksori-live/moksori/internal/observe"
	"github.com/moksori-live/moksori/pkg/provider/chat"
	discordchat "github.com/moksori-live/moksori/pkg/provider/chat/discord"
	"github.com/moksori-live/moksori/pkg/provider/chat/httpapi"
	"github.com/moksori-live/moksori/pkg/provider/embeddings"
	ollamaembed "github.com/moksori-live/moksori/pkg/provider/embeddings/ollama"
	oaembed "github.com/moksori-live/moksori/pkg/provider/embeddings/openai"
	"github.com/moksori-live/moksori/pkg/provider/llm"
	"github.com/moksori-live/moksori/pkg/provider/llm/anyllm"
	oaillm "github.com/moksori-live/moksori/pkg/provider/llm/openai"
	"github.com/moksori-live/moksori/pkg/provider/stt"
	"github.com/moksori-live/moksori/pkg/provider/stt/deepgram"
	"github.com/moksori-live/moksori/pkg/provider/stt/whisper"
	"github.com/moksori-live/moksori/pkg/provider/tts"
	"github.com/moksori-live/moksori/pkg/provider/tts/coqui"
	"github.com/moksori-live/moksori/pkg/provider/tts/elevenlabs"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "moksori: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "moksori: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it at runtime.
	level := new(slog.LevelVar)
	level.Set(cfg.Logging.Level.Level())
	logger := newLogger(cfg.Logging.Format, level)
	slog.SetDefault(logger)

	slog.Info("moksori starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Logging.Level,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "moksori",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Discord session (optional) ────────────────────────────────────────────
	// One gateway session serves both the chat source and the voice sink.
	var session *discordgo.Session
	if cfg.Discord.Token != "" {
		session, err = discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			slog.Error("failed to create discord session", "err", err)
			return 1
		}
		session.Identify.Intents |= discordgo.IntentMessageContent
		if err := session.Open(); err != nil {
			slog.Error("failed to connect to discord", "err", err)
			return 1
		}
		defer session.Close()
		slog.Info("discord session connected", "guild_id", cfg.Discord.GuildID)
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg, session)

	providers, err := app.BuildProviders(cfg, reg, metrics, logger)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	providers.Discord = session

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise engine", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("engine ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the adapter
// from the real implementation packages. The discord chat factory closes
// over the shared gateway session.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config, session *discordgo.Session) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native adapter, which also carries tool calling and a
	// separate summarization model.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if m := optString(entry.Options, "summary_model"); m != "" {
			opts = append(opts, oaillm.WithSummaryModel(m))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral and groq all share the same
	// pattern through the any-llm bridge: optional APIKey + optional BaseURL.
	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, coqui.WithVoice(voice))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(entry.APIKey, optString(entry.Options, "voice_id"), opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// ── Chat ──────────────────────────────────────────────────────────────────

	reg.RegisterChat("httpapi", func(entry config.ProviderEntry) (chat.Source, error) {
		var opts []httpapi.Option
		if entry.APIKey != "" {
			opts = append(opts, httpapi.WithHeader("Authorization", "Bearer "+entry.APIKey))
		}
		return httpapi.New(entry.BaseURL, opts...)
	})

	reg.RegisterChat("discord", func(config.ProviderEntry) (chat.Source, error) {
		if session == nil {
			return nil, errors.New("discord chat source requires discord.token")
		}
		return discordchat.New(session, cfg.Discord.TextChannelID)
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═════════════════════════════════════════════╗")
	fmt.Println("║           moksori  startup summary          ║")
	fmt.Println("╠═════════════════════════════════════════════╣")
	printRow("LLM", chainSummary(cfg.Providers.LLM))
	printRow("TTS", chainSummary(cfg.Providers.TTS))
	printRow("STT", chainSummary(cfg.Providers.STT))
	printRow("Embeddings", entrySummary(cfg.Providers.Embeddings))
	printRow("Chat source", entrySummary(cfg.Providers.Chat))
	printRow("Speech input", onOff(cfg.STT.Enabled))
	printRow("Chat poll", onOff(cfg.Chat.Enabled))
	printRow("Idle prompts", onOff(cfg.Idle.Enabled))
	printRow("Avatar link", onOff(cfg.Avatar.Enabled))
	printRow("Audio sink", string(cfg.Audio.Sink))
	printRow("Memory", string(cfg.Memory.Backend))
	if cfg.Discord.Token != "" {
		printRow("Discord", "connected")
	} else {
		printRow("Discord", "(disabled)")
	}
	if cfg.Dashboard.Enabled {
		printRow("Dashboard", cfg.Dashboard.ListenAddr)
	} else {
		printRow("Dashboard", "(disabled)")
	}
	printRow("Tool servers", fmt.Sprintf("%d", len(cfg.Tools.Servers)))
	fmt.Println("╚═════════════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 26 {
		value = value[:23] + "…"
	}
	fmt.Printf("║  %-14s: %-26s ║\n", kind, value)
}

func chainSummary(c config.ProviderChain) string {
	if !c.Configured() {
		return "(not configured)"
	}
	s := c.Primary.Name
	if c.Primary.Model != "" {
		s += " / " + c.Primary.Model
	}
	if n := len(c.Fallbacks); n > 0 {
		s += fmt.Sprintf(" (+%d)", n)
	}
	return s
}

func entrySummary(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
