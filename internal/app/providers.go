package app

import (
	"fmt"
	"log/slog"

	"github.com/moksori-live/moksori/internal/config"
	"github.com/moksori-live/moksori/internal/observe"
	"github.com/moksori-live/moksori/internal/resilience"
)

// BuildProviders constructs every provider the configuration names through
// the registry. The chained kinds (LLM, TTS, STT) are wrapped in
// breaker-guarded fallback chains even when no fallback is configured, so
// the dashboard can report their health. The Discord session is not built
// here; main attaches it when a discord surface is configured.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (*Providers, error) {
	if log == nil {
		log = slog.Default()
	}
	ccfg := resilience.ChainConfig{Metrics: m, Logger: log}
	p := &Providers{}

	llmPrimary, err := reg.CreateLLM(cfg.Providers.LLM.Primary)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Primary.Name, err)
	}
	llmChain := resilience.NewLLMChain(cfg.Providers.LLM.Primary.Name, llmPrimary, ccfg)
	for _, fb := range cfg.Providers.LLM.Fallbacks {
		fp, err := reg.CreateLLM(fb)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
		}
		llmChain.AddFallback(fb.Name, fp)
	}
	p.LLM = llmChain

	ttsPrimary, err := reg.CreateTTS(cfg.Providers.TTS.Primary)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Primary.Name, err)
	}
	ttsChain := resilience.NewTTSChain(cfg.Providers.TTS.Primary.Name, ttsPrimary, ccfg)
	for _, fb := range cfg.Providers.TTS.Fallbacks {
		fp, err := reg.CreateTTS(fb)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
		}
		ttsChain.AddFallback(fb.Name, fp)
	}
	p.TTS = ttsChain

	if cfg.Providers.STT.Configured() {
		sttPrimary, err := reg.CreateSTT(cfg.Providers.STT.Primary)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Primary.Name, err)
		}
		sttChain := resilience.NewSTTChain(cfg.Providers.STT.Primary.Name, sttPrimary, ccfg)
		for _, fb := range cfg.Providers.STT.Fallbacks {
			fp, err := reg.CreateSTT(fb)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
			}
			sttChain.AddFallback(fb.Name, fp)
		}
		p.STT = sttChain
	}

	if cfg.Providers.Chat.Name != "" {
		src, err := reg.CreateChat(cfg.Providers.Chat)
		if err != nil {
			return nil, fmt.Errorf("create chat provider %q: %w", cfg.Providers.Chat.Name, err)
		}
		p.Chat = src
	}

	if cfg.Providers.Embeddings.Name != "" {
		emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
		}
		p.Embeddings = emb
	}

	return p, nil
}
