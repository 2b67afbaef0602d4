package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moksori-live/moksori/internal/config"
	"github.com/moksori-live/moksori/internal/event"
)

// utteranceCorrectTimeout bounds the transcript correction of a single
// utterance so a slow model cannot stall the speech path.
const utteranceCorrectTimeout = 10 * time.Second

// ─── Start / Stop / Run ──────────────────────────────────────────────────────

// Start launches the event loop, the response pipeline, and every enabled
// input producer. It returns an error if the engine is already running or
// the microphone listener refuses to start. Stop and Start may be cycled;
// mailbox contents and conversation state survive across cycles.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("app: engine already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	a.arb.Start(gctx, a.pipe)
	a.pipe.Start(gctx)

	if a.recognizer != nil {
		h := func(speaker, text string) {
			a.handleUtterance(gctx, speaker, text)
		}
		if err := a.recognizer.Start(gctx, h); err != nil {
			cancel()
			return fmt.Errorf("app: start speech input: %w", err)
		}
	}

	if a.poller != nil {
		a.poller.Start(gctx)
	}
	if a.idler != nil {
		a.idler.Start(gctx)
	}
	if a.summarizer != nil {
		a.summarizer.Start(gctx)
	}
	if a.distiller != nil {
		a.distiller.Start(gctx)
	}

	if a.dash != nil {
		g.Go(func() error {
			if err := a.dash.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("app: dashboard: %w", err)
			}
			return nil
		})
	}

	a.running = true
	a.cancel = cancel
	a.wait = g.Wait
	a.runCtx = gctx
	a.log.Info("engine started",
		"speech", a.recognizer != nil,
		"chat_poll", a.poller != nil,
		"idle", a.idler != nil)
	return nil
}

// Stop halts the running engine: the microphone listener is torn down, any
// in-flight playback is cut so its response concludes and releases the
// token, and every loop is cancelled. A stopped or never-started engine is
// a no-op.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}

	if a.recognizer != nil {
		if err := a.recognizer.Stop(); err != nil {
			a.log.Warn("speech input stop failed", "error", err)
		}
	}

	// Halting playback first lets an in-flight response finish its epilogue
	// and clear the token before the response loop is joined.
	a.sink.Stop()
	a.pipe.Stop()
	a.arb.Stop()
	a.cancel()
	err := a.wait()

	a.running = false
	a.cancel = nil
	a.wait = nil
	a.runCtx = nil
	a.log.Info("engine stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Run starts the engine and blocks until ctx is cancelled or a supervised
// component fails, then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	done := a.runCtx.Done()
	a.mu.Unlock()
	<-done

	if err := a.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Control surface ─────────────────────────────────────────────────────────

// ChangeInputDevices replaces the speaker-to-microphone mapping. Running
// capture streams are reopened on the new devices before it returns.
func (a *App) ChangeInputDevices(devices map[string]string) error {
	if a.recognizer == nil {
		return errors.New("app: speech input is not enabled")
	}
	return a.recognizer.SetInputDevices(devices)
}

// ChangeOutputDevice switches playback to the named output device. Takes
// effect on the next stream; current playback is unaffected.
func (a *App) ChangeOutputDevice(id string) error {
	return a.sink.SetOutputDevice(id)
}

// ApplyConfig applies a reloaded configuration to the running engine. Only
// hot-swappable settings take effect; anything structural is logged as
// needing a restart. Matches the watcher's onChange signature.
func (a *App) ApplyConfig(oldCfg, newCfg *config.Config) {
	diff := config.Compare(oldCfg, newCfg)
	if !diff.Changed() {
		return
	}

	if diff.LogLevelChanged {
		if a.level != nil {
			a.level.Set(diff.NewLevel.Level())
			a.log.Info("log level changed", "level", string(diff.NewLevel))
		} else {
			a.log.Warn("log level changed but no level var is attached")
		}
	}
	if diff.PersonaChanged || diff.PromptsChanged {
		a.pipe.SetAssembler(a.buildAssembler(newCfg))
		a.log.Info("prompt assembler rebuilt")
	}
	if diff.ResponseChanceChanged && a.poller != nil {
		a.poller.SetResponseChance(diff.NewResponseChance)
		a.log.Info("chat response chance changed", "chance", diff.NewResponseChance)
	}
	if diff.LexiconChanged {
		a.setLexicon(newCfg.STT.Lexicon)
		a.log.Info("transcript lexicon reloaded", "terms", len(newCfg.STT.Lexicon))
	}
	if diff.RestartRequired {
		a.log.Warn("configuration changes require a restart to take effect")
	}

	a.mu.Lock()
	a.cfg = newCfg
	a.mu.Unlock()
}

// ─── Speech intake ───────────────────────────────────────────────────────────

// handleUtterance runs one recognized utterance through transcript
// correction and posts it to the arbiter. Called from the listener's
// per-input goroutines.
func (a *App) handleUtterance(ctx context.Context, speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if a.corrector != nil {
		cctx, cancel := context.WithTimeout(ctx, utteranceCorrectTimeout)
		res, err := a.corrector.Correct(cctx, text, a.currentLexicon())
		cancel()
		if err != nil {
			a.log.Warn("transcript correction failed, using raw text",
				"speaker", speaker, "error", err)
		} else {
			text = res.Corrected
		}
	}

	if !a.arb.Post(event.Input{
		Source:  event.SourceSpeech,
		Speaker: speaker,
		Text:    text,
	}) {
		a.log.Warn("speech event dropped, mailbox full", "speaker", speaker)
	}
}

func (a *App) currentLexicon() []string {
	a.lexMu.RLock()
	defer a.lexMu.RUnlock()
	return a.lexicon
}

func (a *App) setLexicon(terms []string) {
	a.lexMu.Lock()
	a.lexicon = slices.Clone(terms)
	a.lexMu.Unlock()
}
