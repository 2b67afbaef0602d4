// Package app wires the engine together: configuration in, a running
// virtual streamer out.
//
// [New] builds every subsystem in dependency order, connects the external
// resources the config names, and collects the closers that release them.
// [App.Start] and [App.Stop] bound one run of the input producers and the
// response path; [App.Run] is the blocking convenience around them, and
// [App.Shutdown] tears the whole thing down.
//
// For testing, inject doubles for the hardware-facing pieces via functional
// options (WithSink, WithRecognizer, etc.). When an option is not provided,
// New creates the real implementation the config selects.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/moksori-live/moksori/internal/arbiter"
	"github.com/moksori-live/moksori/internal/chatfeed"
	"github.com/moksori-live/moksori/internal/chatlog"
	"github.com/moksori-live/moksori/internal/config"
	"github.com/moksori-live/moksori/internal/dashboard"
	"github.com/moksori-live/moksori/internal/health"
	"github.com/moksori-live/moksori/internal/idle"
	"github.com/moksori-live/moksori/internal/observe"
	"github.com/moksori-live/moksori/internal/pipeline"
	"github.com/moksori-live/moksori/internal/prompt"
	"github.com/moksori-live/moksori/internal/session"
	"github.com/moksori-live/moksori/internal/status"
	"github.com/moksori-live/moksori/internal/tools"
	"github.com/moksori-live/moksori/internal/transcript"
	"github.com/moksori-live/moksori/internal/transcript/llmcorrect"
	"github.com/moksori-live/moksori/internal/transcript/phonetic"
	"github.com/moksori-live/moksori/pkg/audio"
	discordsink "github.com/moksori-live/moksori/pkg/audio/discord"
	malgosink "github.com/moksori-live/moksori/pkg/audio/malgo"
	"github.com/moksori-live/moksori/pkg/avatar"
	"github.com/moksori-live/moksori/pkg/avatar/vtstudio"
	"github.com/moksori-live/moksori/pkg/memory"
	"github.com/moksori-live/moksori/pkg/memory/jsonfile"
	"github.com/moksori-live/moksori/pkg/memory/postgres"
	"github.com/moksori-live/moksori/pkg/provider/chat"
	"github.com/moksori-live/moksori/pkg/provider/embeddings"
	"github.com/moksori-live/moksori/pkg/provider/llm"
	"github.com/moksori-live/moksori/pkg/provider/stt"
	"github.com/moksori-live/moksori/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. LLM and TTS are
// required; the rest are optional and gate the subsystems that need them.
// Populated by main.go, normally through [BuildProviders].
type Providers struct {
	// LLM generates responses, summaries, and tool calls.
	LLM llm.Provider

	// TTS synthesizes response audio.
	TTS tts.Synthesizer

	// STT opens streaming transcription sessions. Required when speech
	// input is enabled.
	STT stt.Transcriber

	// Chat fetches recent live-chat lines. Required when chat polling is
	// enabled.
	Chat chat.Source

	// Embeddings vectorises memory entries. Required by the postgres
	// memory backend.
	Embeddings embeddings.Provider

	// Discord is the shared gateway session for the discord sink. The
	// caller owns it and closes it after [App.Shutdown].
	Discord *discordgo.Session
}

// App owns every subsystem lifetime. New wires, Start/Stop bound one run,
// Shutdown releases everything.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar

	metrics  *observe.Metrics
	recorder *observe.Recorder

	longTerm memory.LongTermStore
	core     memory.CoreStore
	searcher memory.Searcher

	window  *chatlog.Window
	history *session.History
	tracker *status.Tracker

	avatar avatar.Controller
	tools  *tools.Host
	sink   audio.Sink

	recognizer stt.Recognizer
	corrector  *transcript.Chain

	arb  *arbiter.Arbiter
	pipe *pipeline.Pipeline

	poller     *chatfeed.Poller
	idler      *idle.Timer
	summarizer *session.Summarizer
	distiller  *session.Distiller
	dash       *dashboard.Server

	// lexicon is the hot-reloadable vocabulary for transcript correction.
	lexMu   sync.RWMutex
	lexicon []string

	// closers release held resources, unwound newest first in Shutdown.
	closers      []func() error
	shutdownOnce sync.Once

	// run state, guarded by mu.
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wait    func() error
	runCtx  context.Context
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *App) {
		if log != nil {
			a.log = log
		}
	}
}

// WithLevelVar hands the app the process log-level variable so config
// reloads can retune verbosity.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics enables metric recording on every instrumented subsystem.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSink injects an audio sink instead of creating the configured one.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithRecognizer injects a microphone recognizer instead of building the
// capture listener.
func WithRecognizer(r stt.Recognizer) Option {
	return func(a *App) { a.recognizer = r }
}

// WithAvatar injects an avatar controller instead of connecting to VTube
// Studio.
func WithAvatar(c avatar.Controller) Option {
	return func(a *App) { a.avatar = c }
}

// WithLongTermStore injects a long-term memory store instead of creating
// one from config.
func WithLongTermStore(s memory.LongTermStore) Option {
	return func(a *App) { a.longTerm = s }
}

// WithCoreStore injects a core memory store instead of creating one from
// config.
func WithCoreStore(s memory.CoreStore) Option {
	return func(a *App) { a.core = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires the engine from cfg and providers. The configuration is
// validated first and a bad one refuses construction. External resources
// (memory backend, tool servers, avatar) are connected here; on failure
// everything already initialised is released. The returned App is idle
// until [App.Start] or [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: a language model provider is required")
	}
	if providers.TTS == nil {
		return nil, errors.New("app: a speech synthesizer is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.setLexicon(cfg.STT.Lexicon)
	if a.metrics != nil {
		a.recorder = observe.NewRecorder(a.metrics)
	}

	// ── 1. Memory stores ─────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Conversation state ────────────────────────────────────────────
	a.initState()

	// ── 3. Avatar link ───────────────────────────────────────────────────
	a.initAvatar(ctx)

	// ── 4. Tool host ─────────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 5. Audio sink ────────────────────────────────────────────────────
	if err := a.initSink(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init audio sink: %w", err)
	}

	// ── 6. Arbiter and response pipeline ─────────────────────────────────
	a.initResponsePath()

	// ── 7. Speech input ──────────────────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init speech input: %w", err)
	}

	// ── 8. Background workers ────────────────────────────────────────────
	if err := a.initWorkers(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init workers: %w", err)
	}

	// ── 9. Dashboard ─────────────────────────────────────────────────────
	a.initDashboard()

	a.log.Info("engine wired",
		"memory_backend", string(cfg.Memory.Backend),
		"sink", string(cfg.Audio.Sink),
		"stt", cfg.STT.Enabled,
		"chat", cfg.Chat.Enabled,
		"idle", cfg.Idle.Enabled,
		"avatar", a.avatar != nil,
		"dashboard", cfg.Dashboard.Enabled)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory sets up the configured memory backend, honouring injected
// stores. The postgres store also provides semantic recall; any injected
// store that implements [memory.Searcher] is picked up the same way.
func (a *App) initMemory(ctx context.Context) error {
	if a.cfg.Memory.Backend == config.MemoryPostgres && (a.longTerm == nil || a.core == nil) {
		if a.providers.Embeddings == nil {
			return errors.New("postgres backend needs an embeddings provider")
		}
		store, err := postgres.NewStore(ctx, a.cfg.Memory.PostgresDSN, a.providers.Embeddings,
			postgres.WithMaxEntries(a.cfg.Memory.MaxEntries),
			postgres.WithLogger(a.log))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if a.longTerm == nil {
			a.longTerm = store
		}
		if a.core == nil {
			a.core = store
		}
	}

	if a.longTerm == nil {
		lt, err := jsonfile.NewLongTerm(a.cfg.LLM.MemoryPath,
			jsonfile.WithMaxEntries(a.cfg.Memory.MaxEntries),
			jsonfile.WithLogger(a.log))
		if err != nil {
			return err
		}
		a.longTerm = lt
	}
	if a.core == nil {
		core, err := jsonfile.NewCore(a.cfg.LLM.CoreMemoryPath,
			jsonfile.WithCoreLogger(a.log))
		if err != nil {
			return err
		}
		a.core = core
	}

	if s, ok := a.longTerm.(memory.Searcher); ok {
		a.searcher = s
	}
	return nil
}

// initState creates the in-process conversation state: the chat window, the
// session history, and the status tracker that snapshots them all.
func (a *App) initState() {
	a.window = chatlog.New(a.cfg.Chat.MaxRecentChats)
	a.history = session.NewHistory(a.cfg.LLM.MaxHistory)

	opts := []status.Option{status.WithLogger(a.log)}
	if a.recorder != nil {
		opts = append(opts, status.WithObserver(a.recorder))
	}
	a.tracker = status.NewTracker(a.history, a.longTerm, a.core, a.window, opts...)
}

// initAvatar connects to VTube Studio. A failed connection degrades to a
// mouthless stream instead of blocking startup.
func (a *App) initAvatar(ctx context.Context) {
	if a.avatar != nil || !a.cfg.Avatar.Enabled {
		return
	}
	vts := vtstudio.New(a.cfg.Avatar.URL, vtstudio.WithLogger(a.log))
	if err := vts.Connect(ctx); err != nil {
		a.log.Warn("avatar connection failed, mouth link disabled",
			"url", a.cfg.Avatar.URL, "error", err)
		return
	}
	a.avatar = vts
	a.closers = append(a.closers, vts.Close)
	a.log.Info("avatar connected", "url", a.cfg.Avatar.URL)
}

// initTools sets up the tool host: builtins first, then the configured MCP
// servers.
func (a *App) initTools(ctx context.Context) error {
	hopts := []tools.Option{tools.WithLogger(a.log)}
	if a.metrics != nil {
		hopts = append(hopts, tools.WithMetrics(a.metrics))
	}
	h := tools.New(hopts...)
	a.tools = h
	a.closers = append(a.closers, h.Close)

	if err := h.RegisterBuiltin(tools.SaveCoreMemory(a.core)); err != nil {
		return err
	}
	if trg, ok := a.avatar.(avatar.HotkeyTrigger); ok {
		if err := h.RegisterBuiltin(tools.TriggerAvatarHotkey(trg)); err != nil {
			return err
		}
	}

	for _, srv := range a.cfg.Tools.Servers {
		err := h.RegisterServer(ctx, tools.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		})
		if err != nil {
			return fmt.Errorf("register tool server %q: %w", srv.Name, err)
		}
		a.log.Info("registered tool server", "name", srv.Name)
	}
	return nil
}

// initSink creates the configured playback sink and, when an avatar is
// connected, wires chunk loudness to its mouth parameter.
func (a *App) initSink() error {
	if a.sink == nil {
		switch a.cfg.Audio.Sink {
		case config.SinkDiscord:
			if a.providers.Discord == nil {
				return errors.New("discord sink needs a discord session")
			}
			s, err := discordsink.New(a.providers.Discord,
				a.cfg.Discord.GuildID, a.cfg.Discord.VoiceChannelID,
				discordsink.WithLogger(a.log))
			if err != nil {
				return err
			}
			a.sink = s
			a.closers = append(a.closers, s.Close)

		default:
			if names, err := malgosink.ListPlaybackDevices(); err == nil {
				a.log.Debug("playback devices", "names", names)
			}
			a.sink = malgosink.NewSink(
				malgosink.WithOutputDevice(a.cfg.Audio.OutputDevice),
				malgosink.WithLogger(a.log))
		}
	}

	if a.avatar != nil {
		a.sink.OnChunkLoudness(a.avatar.SetMouthOpen)
	}
	return nil
}

// initResponsePath creates the arbiter and the single-flight response
// pipeline around it.
func (a *App) initResponsePath() {
	a.arb = arbiter.New(arbiter.Config{
		Tracker: a.tracker,
		Logger:  a.log,
	})

	pcfg := pipeline.Config{
		Arbiter:   a.arb,
		LLM:       a.providers.LLM,
		TTS:       a.providers.TTS,
		Sink:      a.sink,
		Avatar:    a.avatar,
		Assembler: a.buildAssembler(a.cfg),
		History:   a.history,
		Window:    a.window,
		Tracker:   a.tracker,
		Logger:    a.log,
	}
	if a.recorder != nil {
		pcfg.Latency = a.recorder
	}
	a.pipe = pipeline.New(pcfg)
}

// initSpeech builds the transcript corrector and the microphone listener
// when speech input is enabled.
func (a *App) initSpeech() error {
	if !a.cfg.STT.Enabled {
		return nil
	}

	copts := []transcript.Option{
		transcript.WithMatcher(phonetic.New()),
		transcript.WithLogger(a.log),
	}
	if a.cfg.STT.LLMCorrection {
		copts = append(copts, transcript.WithModelCorrector(llmcorrect.New(a.providers.LLM)))
	}
	a.corrector = transcript.NewChain(copts...)

	if a.recognizer == nil {
		if a.providers.STT == nil {
			return errors.New("no stt provider configured")
		}
		lst, err := stt.NewListener(a.providers.STT, malgosink.Capture, a.cfg.STT.Devices,
			stt.WithFormat(audio.Format{
				SampleRate:    a.cfg.STT.SampleRate,
				Channels:      1,
				BitsPerSample: 16,
			}),
			stt.WithLanguage(a.cfg.STT.Language),
			stt.WithLogger(a.log))
		if err != nil {
			return err
		}
		a.recognizer = lst
	}
	return nil
}

// initWorkers creates the enabled background producers: the chat poller,
// the idle timer, and the two memory workers.
func (a *App) initWorkers() error {
	if a.cfg.Chat.Enabled {
		if a.providers.Chat == nil {
			return errors.New("no chat provider configured")
		}
		a.poller = chatfeed.New(chatfeed.Config{
			Source:         a.providers.Chat,
			Window:         a.window,
			Arbiter:        a.arb,
			Tracker:        a.tracker,
			Interval:       a.cfg.Chat.PollInterval(),
			FetchLimit:     a.cfg.Chat.MaxRecentChats,
			ResponseChance: a.cfg.Chat.ResponseChance,
			Logger:         a.log,
		})
	}

	if a.cfg.Idle.Enabled {
		a.idler = idle.New(idle.Config{
			Arbiter:     a.arb,
			Sink:        a.sink,
			Tracker:     a.tracker,
			MinInterval: a.cfg.Idle.MinInterval(),
			MaxInterval: a.cfg.Idle.MaxInterval(),
			Logger:      a.log,
		})
	}

	if a.cfg.LLM.EnableMemorySummarization {
		a.summarizer = session.NewSummarizer(session.SummarizerConfig{
			History:  a.history,
			LongTerm: a.longTerm,
			Provider: a.providers.LLM,
			Interval: a.cfg.LLM.SummarizeInterval(),
			Logger:   a.log,
		})
	}

	if a.cfg.LLM.EnableCoreMemoryProcessing {
		a.distiller = session.NewDistiller(session.DistillerConfig{
			LongTerm: a.longTerm,
			Provider: a.providers.LLM,
			Tools:    a.tools,
			Interval: a.cfg.LLM.DistillInterval(),
			Logger:   a.log,
		})
	}
	return nil
}

// initDashboard creates the dashboard server with health checks for the
// memory store and every provider chain that reports breaker state.
func (a *App) initDashboard() {
	if !a.cfg.Dashboard.Enabled {
		return
	}

	checkers := []health.Checker{{
		Name: "memory",
		Check: func(ctx context.Context) error {
			_, err := a.longTerm.Recent(ctx, 1)
			return err
		},
	}}
	if c, ok := breakerChecker("llm", a.providers.LLM); ok {
		checkers = append(checkers, c)
	}
	if c, ok := breakerChecker("tts", a.providers.TTS); ok {
		checkers = append(checkers, c)
	}
	if c, ok := breakerChecker("stt", a.providers.STT); ok {
		checkers = append(checkers, c)
	}

	a.dash = dashboard.New(dashboard.Config{
		Tracker: a.tracker,
		Health:  health.New(checkers...),
		Metrics: a.metrics,
		Addr:    a.cfg.Dashboard.ListenAddr,
		Logger:  a.log,
	})
}

// breakerChecker adapts a provider chain's breaker state into a health
// check. Providers without a Healthy method contribute no checker.
func breakerChecker(name string, v any) (health.Checker, bool) {
	h, ok := v.(interface{ Healthy() bool })
	if !ok {
		return health.Checker{}, false
	}
	return health.Checker{
		Name: name,
		Check: func(context.Context) error {
			if !h.Healthy() {
				return fmt.Errorf("%s: every backend breaker is open", name)
			}
			return nil
		},
	}, true
}

// buildAssembler constructs the prompt assembler from cfg. Called at init
// and again on reload when persona or prompt templates change.
func (a *App) buildAssembler(cfg *config.Config) *prompt.Assembler {
	opts := []prompt.Option{
		prompt.WithIdlePrompt(cfg.LLM.IdlePrompt),
		prompt.WithUserTemplate(cfg.LLM.UserPromptTemplate),
		prompt.WithLogger(a.log),
	}
	if a.searcher != nil {
		opts = append(opts, prompt.WithSearcher(a.searcher))
	}
	return prompt.NewAssembler(cfg.LLM.PersonaPrompt, a.longTerm, a.core, opts...)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the engine if it is running and releases every held
// resource in reverse-init order. It respects the context deadline: closers
// still pending when ctx expires are abandoned. Subsequent calls are
// no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.shutdownOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.Stop(); err != nil {
			errs = append(errs, err)
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				errs = append(errs, fmt.Errorf("app: %d closers abandoned: %w", i+1, err))
				break
			}
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.closers = nil
		a.log.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// closeAll releases held resources newest first, logging failures. Used
// when New fails partway.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Debug("closer failed during teardown", "error", err)
		}
	}
	a.closers = nil
}
