package app_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/moksori-live/moksori/internal/app"
	"github.com/moksori-live/moksori/internal/config"
	"github.com/moksori-live/moksori/pkg/types"
)

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, enableSpeech)

	if err := fx.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !fx.rec.Started() {
		t.Error("recognizer not started with the engine")
	}
	if err := fx.app.Start(context.Background()); err == nil {
		t.Error("second Start succeeded on a running engine")
	}

	if err := fx.app.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if fx.rec.Started() {
		t.Error("recognizer still running after Stop")
	}
	if fx.rec.StopCallCount != 1 {
		t.Errorf("recognizer stopped %d times, want 1", fx.rec.StopCallCount)
	}
	if err := fx.app.Stop(); err != nil {
		t.Fatalf("Stop of a stopped engine: %v", err)
	}
	if fx.rec.StopCallCount != 1 {
		t.Errorf("recognizer stopped %d times after double Stop, want 1", fx.rec.StopCallCount)
	}
}

func TestSpeechUtteranceDrivesPlayback(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, enableSpeech)
	if err := fx.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.rec.EmitUtterance("Streamer", "hello there")

	waitFor(t, 2*time.Second, func() bool {
		return len(fx.sink.PlayedChunks(0)) == 3
	})
	if !strings.Contains(fx.llm.LastPrompt(), "hello there") {
		t.Errorf("prompt %q does not carry the utterance", fx.llm.LastPrompt())
	}
	if got := fx.tts.LastText(); got != "Hello viewers!" {
		t.Errorf("synthesized text = %q, want the generated reply", got)
	}
}

func TestEngineRestarts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, enableSpeech)
	if err := fx.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fx.rec.EmitUtterance("Streamer", "first round")
	waitFor(t, 2*time.Second, func() bool {
		return len(fx.sink.PlayedChunks(0)) == 3
	})

	if err := fx.app.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := fx.app.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if fx.rec.StartCallCount != 2 {
		t.Errorf("recognizer started %d times, want 2", fx.rec.StartCallCount)
	}

	fx.rec.EmitUtterance("Streamer", "second round")
	waitFor(t, 2*time.Second, func() bool {
		return len(fx.sink.PlayedChunks(1)) == 3
	})
	if !strings.Contains(fx.llm.LastPrompt(), "second round") {
		t.Errorf("prompt %q does not carry the post-restart utterance", fx.llm.LastPrompt())
	}
}

func TestMouthClosesAfterPlayback(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, enableSpeech)
	if err := fx.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.rec.EmitUtterance("Streamer", "say something")

	waitFor(t, 2*time.Second, func() bool {
		return fx.av.MouthValueCount() >= 2 && fx.av.LastMouthValue() == 0
	})

	open := false
	for _, v := range fx.av.MouthValues {
		if v > 0 {
			open = true
		}
	}
	if !open {
		t.Error("mouth never opened during playback")
	}
}

func TestChatMessageDrivesPlayback(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, func(cfg *config.Config) {
		cfg.Chat.Enabled = true
		cfg.Providers.Chat.Name = "mock"
		cfg.Chat.PollIntervalS = 1
		cfg.Chat.ResponseChance = 1.0
	})
	fx.chat.SetLines([]types.ChatLine{
		{User: "viewer1", Message: "what game is this?"},
	})

	if err := fx.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First poll lands after one full interval.
	waitFor(t, 4*time.Second, func() bool {
		return len(fx.sink.PlayedChunks(0)) == 3
	})
	if !strings.Contains(fx.llm.LastPrompt(), "what game is this?") {
		t.Errorf("prompt %q does not carry the chat message", fx.llm.LastPrompt())
	}
}

func TestApplyConfigHotSwapsPersona(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, enableSpeech)
	if err := fx.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	next := *fx.cfg
	next.LLM.PersonaPrompt = "You are a grumpy pirate captain."
	fx.app.ApplyConfig(fx.cfg, &next)

	fx.rec.EmitUtterance("Streamer", "ahoy")
	waitFor(t, 2*time.Second, func() bool {
		return fx.llm.GenerateCount() >= 1
	})
	prompt := fx.llm.LastPrompt()
	if !strings.Contains(prompt, "grumpy pirate captain") {
		t.Errorf("prompt %q does not carry the swapped persona", prompt)
	}
	if strings.Contains(prompt, "cheerful virtual streamer") {
		t.Errorf("prompt %q still carries the old persona", prompt)
	}
}

func TestApplyConfigUpdatesLogLevel(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	fx := newFixture(t, nil, app.WithLevelVar(lv))

	next := *fx.cfg
	next.Logging.Level = config.LogDebug
	fx.app.ApplyConfig(fx.cfg, &next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug after reload", lv.Level())
	}
}
