package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/moksori-live/moksori/internal/tools"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
	"stt":        {"whisper", "deepgram"},
	"tts":        {"coqui", "elevenlabs"},
	"embeddings": {"openai", "ollama"},
	"chat":       {"httpapi", "discord"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. Useful in tests where configs are built from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// An empty document is a valid config that is all defaults.
		if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Logging
	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "" && !cfg.Logging.Format.IsValid() {
		errs = append(errs, fmt.Errorf("logging.format %q is invalid; valid values: text, json", cfg.Logging.Format))
	}

	// STT
	if cfg.STT.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("stt.sample_rate %d must be positive", cfg.STT.SampleRate))
	}
	if cfg.STT.Enabled && !cfg.Providers.STT.Configured() {
		errs = append(errs, errors.New("stt.enabled requires providers.stt.primary.name"))
	}

	// Chat
	if cfg.Chat.PollIntervalS <= 0 {
		errs = append(errs, fmt.Errorf("chat.poll_interval_s %d must be positive", cfg.Chat.PollIntervalS))
	}
	if cfg.Chat.MaxRecentChats <= 0 {
		errs = append(errs, fmt.Errorf("chat.max_recent_chats %d must be positive", cfg.Chat.MaxRecentChats))
	}
	if cfg.Chat.ResponseChance < 0 || cfg.Chat.ResponseChance > 1 {
		errs = append(errs, fmt.Errorf("chat.response_chance %.2f is out of range [0, 1]", cfg.Chat.ResponseChance))
	}
	if cfg.Chat.Enabled {
		if cfg.Providers.Chat.Name == "" {
			errs = append(errs, errors.New("chat.enabled requires providers.chat.name"))
		}
		if cfg.Chat.ResponseChance == 0 {
			slog.Warn("chat.response_chance is 0; chat lines will be logged but never answered")
		}
	}

	// Idle
	if cfg.Idle.MinIntervalS <= 0 {
		errs = append(errs, fmt.Errorf("idle.min_interval_s %d must be positive", cfg.Idle.MinIntervalS))
	}
	if cfg.Idle.MaxIntervalS < cfg.Idle.MinIntervalS {
		errs = append(errs, fmt.Errorf("idle.max_interval_s %d is below idle.min_interval_s %d", cfg.Idle.MaxIntervalS, cfg.Idle.MinIntervalS))
	}

	// LLM session and memory knobs
	if cfg.LLM.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("llm.max_history %d must not be negative", cfg.LLM.MaxHistory))
	}
	if cfg.LLM.EnableMemorySummarization && cfg.LLM.MemorySummarizeIntervalS <= 0 {
		errs = append(errs, fmt.Errorf("llm.memory_summarize_interval_s %d must be positive", cfg.LLM.MemorySummarizeIntervalS))
	}
	if cfg.LLM.EnableCoreMemoryProcessing && cfg.LLM.CoreMemoryIntervalS <= 0 {
		errs = append(errs, fmt.Errorf("llm.core_memory_interval_s %d must be positive", cfg.LLM.CoreMemoryIntervalS))
	}

	// Providers. The engine cannot respond without a language model or speak
	// without a synthesizer, so those two chains are required.
	errs = append(errs, validateChain("providers.llm", cfg.Providers.LLM, true)...)
	errs = append(errs, validateChain("providers.tts", cfg.Providers.TTS, true)...)
	errs = append(errs, validateChain("providers.stt", cfg.Providers.STT, false)...)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("chat", cfg.Providers.Chat.Name)

	if cfg.Providers.STT.Configured() && !cfg.STT.Enabled {
		slog.Warn("providers.stt is configured but stt.enabled is false; speech input stays off")
	}
	if cfg.Providers.Chat.Name != "" && !cfg.Chat.Enabled {
		slog.Warn("providers.chat is configured but chat.enabled is false; chat input stays off")
	}

	// Memory
	if cfg.Memory.Backend != "" && !cfg.Memory.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: jsonfile, postgres", cfg.Memory.Backend))
	}
	if cfg.Memory.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("memory.max_entries %d must be positive", cfg.Memory.MaxEntries))
	}
	switch cfg.Memory.Backend {
	case MemoryPostgres:
		if cfg.Memory.PostgresDSN == "" {
			errs = append(errs, errors.New("memory.postgres_dsn is required when memory.backend is postgres"))
		}
		if cfg.Providers.Embeddings.Name == "" {
			errs = append(errs, errors.New("providers.embeddings.name is required when memory.backend is postgres"))
		}
		if cfg.Memory.EmbeddingDimensions <= 0 {
			errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d must be positive", cfg.Memory.EmbeddingDimensions))
		}
	default:
		if cfg.LLM.MemoryPath == "" {
			errs = append(errs, errors.New("llm.memory_path is required when memory.backend is jsonfile"))
		}
		if cfg.LLM.CoreMemoryPath == "" {
			errs = append(errs, errors.New("llm.core_memory_path is required when memory.backend is jsonfile"))
		}
	}

	// Audio
	if cfg.Audio.Sink != "" && !cfg.Audio.Sink.IsValid() {
		errs = append(errs, fmt.Errorf("audio.sink %q is invalid; valid values: malgo, discord", cfg.Audio.Sink))
	}
	if cfg.Audio.Sink == SinkDiscord {
		if cfg.Discord.Token == "" {
			errs = append(errs, errors.New("discord.token is required when audio.sink is discord"))
		}
		if cfg.Discord.GuildID == "" || cfg.Discord.VoiceChannelID == "" {
			errs = append(errs, errors.New("discord.guild_id and discord.voice_channel_id are required when audio.sink is discord"))
		}
	}
	if cfg.Providers.Chat.Name == "discord" {
		if cfg.Discord.Token == "" {
			errs = append(errs, errors.New("discord.token is required when providers.chat.name is discord"))
		}
		if cfg.Discord.TextChannelID == "" {
			errs = append(errs, errors.New("discord.text_channel_id is required when providers.chat.name is discord"))
		}
	}

	// Avatar and dashboard
	if cfg.Avatar.Enabled && cfg.Avatar.URL == "" {
		errs = append(errs, errors.New("avatar.url is required when avatar.enabled is true"))
	}
	if cfg.Dashboard.Enabled && cfg.Dashboard.ListenAddr == "" {
		errs = append(errs, errors.New("dashboard.listen_addr is required when dashboard.enabled is true"))
	}

	// MCP tool servers
	serverNamesSeen := make(map[string]int, len(cfg.Tools.Servers))
	for i, srv := range cfg.Tools.Servers {
		prefix := fmt.Sprintf("tools.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := serverNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.servers[%d]", prefix, srv.Name, prev))
			}
			serverNamesSeen[srv.Name] = i
		}
		switch srv.Transport {
		case tools.TransportStdio:
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
			}
		case tools.TransportHTTP:
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url is required when transport is http", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, http", prefix, srv.Transport))
		}
	}

	return errors.Join(errs...)
}

// validateChain checks one provider fallback chain. When required is true a
// missing primary is an error; fallbacks always need names.
func validateChain(path string, chain ProviderChain, required bool) []error {
	var errs []error
	kind := path[len("providers."):]

	if !chain.Configured() {
		if required {
			errs = append(errs, fmt.Errorf("%s.primary.name is required", path))
		}
		if len(chain.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks need a primary to fall back from", path))
		}
		return errs
	}

	validateProviderName(kind, chain.Primary.Name)
	for i, fb := range chain.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", path, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
