package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/moksori-live/moksori/internal/app"
	"github.com/moksori-live/moksori/internal/config"
	"github.com/moksori-live/moksori/pkg/provider/chat"
	chatmock "github.com/moksori-live/moksori/pkg/provider/chat/mock"
	"github.com/moksori-live/moksori/pkg/provider/llm"
	llmmock "github.com/moksori-live/moksori/pkg/provider/llm/mock"
	"github.com/moksori-live/moksori/pkg/provider/stt"
	sttmock "github.com/moksori-live/moksori/pkg/provider/stt/mock"
	"github.com/moksori-live/moksori/pkg/provider/tts"
	ttsmock "github.com/moksori-live/moksori/pkg/provider/tts/mock"
)

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{GenerateResult: "primary"}, nil
	})
	reg.RegisterLLM("backup", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{GenerateResult: "backup"}, nil
	})
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Synthesizer, error) {
		return &ttsmock.Synthesizer{}, nil
	})
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Transcriber, error) {
		return &sttmock.Transcriber{}, nil
	})
	reg.RegisterChat("mock", func(config.ProviderEntry) (chat.Source, error) {
		return &chatmock.Source{}, nil
	})
	return reg
}

func TestBuildProvidersWiresChains(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Providers.LLM.Fallbacks = []config.ProviderEntry{{Name: "backup"}}
	cfg.Providers.STT.Primary.Name = "mock"
	cfg.Providers.Chat.Name = "mock"

	p, err := app.BuildProviders(cfg, testRegistry(), nil, nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if p.LLM == nil || p.TTS == nil || p.STT == nil || p.Chat == nil {
		t.Fatal("configured providers not built")
	}
	if p.Embeddings != nil {
		t.Error("embeddings provider built without configuration")
	}

	got, err := p.LLM.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate through the chain: %v", err)
	}
	if got != "primary" {
		t.Errorf("Generate = %q, want the primary backend's reply", got)
	}

	h, ok := p.LLM.(interface{ Healthy() bool })
	if !ok {
		t.Fatal("llm provider does not report health")
	}
	if !h.Healthy() {
		t.Error("fresh chain reports unhealthy")
	}
}

func TestBuildProvidersSkipsUnconfigured(t *testing.T) {
	t.Parallel()

	p, err := app.BuildProviders(testConfig(t), testRegistry(), nil, nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if p.STT != nil {
		t.Error("transcriber built without configuration")
	}
	if p.Chat != nil {
		t.Error("chat source built without configuration")
	}
}

func TestBuildProvidersUnknownName(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Providers.LLM.Primary.Name = "nope"

	_, err := app.BuildProviders(cfg, testRegistry(), nil, nil)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestBuildProvidersUnknownFallback(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Providers.TTS.Fallbacks = []config.ProviderEntry{{Name: "ghost"}}

	_, err := app.BuildProviders(cfg, testRegistry(), nil, nil)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("error = %v, want ErrProviderNotRegistered", err)
	}
}
