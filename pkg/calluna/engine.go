package calluna

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/calluna-ai/calluna/pkg/adapters/stt"
	"github.com/calluna-ai/calluna/pkg/adapters/tts"
	"github.com/calluna-ai/calluna/pkg/configutil"
	"github.com/calluna-ai/calluna/pkg/conversation"
	"github.com/calluna-ai/calluna/pkg/dispatch"
	"github.com/calluna-ai/calluna/pkg/llm"
	"github.com/calluna-ai/calluna/pkg/logging"
	"github.com/calluna-ai/calluna/pkg/metrics"
	"github.com/calluna-ai/calluna/pkg/observers"
	"github.com/calluna-ai/calluna/pkg/redact"
	"github.com/calluna-ai/calluna/pkg/runner"
	"github.com/calluna-ai/calluna/pkg/segmenter"
	"github.com/calluna-ai/calluna/pkg/sessionstore"
	"github.com/calluna-ai/calluna/pkg/transfer"
	"github.com/calluna-ai/calluna/pkg/transports"
	"github.com/calluna-ai/calluna/pkg/transports/media"
	transportmock "github.com/calluna-ai/calluna/pkg/transports/mock"
)

// EngineOptions lets callers override any wired component; nil fields are
// built from Config.
type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Transport transports.Transport
	Dialer    transports.OutboundDialer
	Store     sessionstore.Store
	Observers []metrics.Observer
}

// Engine owns the whole platform: transport, dispatchers, the per-call
// registry and the lifecycle runner.
type Engine struct {
	cfg       Config
	transport transports.Transport
	registry  *conversation.Registry
	runner    *runner.LifecycleRunner
	asyncObs  *metrics.AsyncObserver
	store     sessionstore.Store
	log       *slog.Logger
	cancel    context.CancelFunc
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("calluna_init",
		"environment", cfg.Environment,
		"transport_vendor", cfg.Transport.Vendor,
		"stt_providers", len(cfg.Providers.STT),
		"llm_providers", len(cfg.Providers.LLM),
		"tts_providers", len(cfg.Providers.TTS),
	)

	obsList := []metrics.Observer{
		observers.NewLatencyObserver(logger),
		observers.NewLoggerObserver(logger),
	}
	var timelineObs *observers.TimelineObserver
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if days := cfg.Observability.RetentionDays; days > 0 {
			if n, err := observers.PurgeArtifacts(dir, time.Duration(days)*24*time.Hour); err != nil {
				slog.Warn("artifact_purge_failed", "error", err)
			} else if n > 0 {
				slog.Info("artifacts_purged", "removed", n)
			}
		}
		timelineObs = observers.NewTimelineObserver(dir)
		obsList = append(obsList, timelineObs)
	}
	obsList = append(obsList, opts.Observers...)
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	reg := opts.Providers
	if reg == nil {
		reg = NewProviderRegistry()
	}

	transport := opts.Transport
	dialer := opts.Dialer
	if transport == nil {
		var err error
		transport, dialer, err = buildTransport(cfg, dialer)
		if err != nil {
			return nil, err
		}
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = buildStore(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	sttDisp, llmDisp, ttsDisp, err := buildDispatchers(cfg, reg, asyncObs)
	if err != nil {
		return nil, err
	}

	convCfg := conversation.Config{
		SystemPrompt:     cfg.Agent.SystemPrompt,
		Greeting:         cfg.Agent.Greeting,
		VoiceID:          cfg.Agent.VoiceID,
		ExitWords:        cfg.Agent.ExitWords,
		ClosingUtterance: cfg.Agent.ClosingUtterance,
		ApologyUtterance: cfg.Agent.ApologyUtterance,
		TransferDialURL:  cfg.Transfer.DialURL,
		MaxTurnHistory:   cfg.Agent.MaxTurnHistory,
		TurnTimeoutMS:    cfg.Agent.TurnTimeoutMS,
		SessionTTL:       time.Duration(cfg.Agent.SessionTTLMS) * time.Millisecond,
		Segmenter: segmenter.Config{
			Encoding:            cfg.Segmenter.Encoding,
			EnergyThreshold:     cfg.Segmenter.EnergyThreshold,
			SilenceDurationMS:   cfg.Segmenter.SilenceDurationMS,
			MinSpeechDurationMS: cfg.Segmenter.MinSpeechDurationMS,
			MaxDurationMS:       cfg.Segmenter.MaxDurationMS,
		},
	}

	deps := conversation.Deps{
		Transport: transport,
		STT:       sttDisp,
		LLM:       llmDisp,
		TTS:       ttsDisp,
		Dialer:    dialer,
		Store:     store,
		Observer:  asyncObs,
		Log:       logger,
	}
	if cfg.Transfer.Enabled {
		arbCfg := transfer.Config{
			TransferTarget:       cfg.Transfer.Target,
			RequestPhrases:       cfg.Transfer.RequestPhrases,
			SensitiveKeywords:    cfg.Transfer.SensitiveKeywords,
			UnknownPhrases:       cfg.Transfer.UnknownPhrases,
			FrustrationKeywords:  cfg.Transfer.FrustrationKeywords,
			ConfidenceThreshold:  cfg.Transfer.ConfidenceThreshold,
			MaxUnknownResponses:  cfg.Transfer.MaxUnknownResponses,
			SummaryTurns:         cfg.Transfer.SummaryTurns,
			PreTransferUtterance: cfg.Transfer.PreTransferUtterance,
		}
		deps.NewArbiter = func() *transfer.Arbiter {
			return transfer.NewArbiter(arbCfg)
		}
	}

	registry := conversation.NewRegistry(convCfg, deps)

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Calluna Engine Ready"}
			if rr, ok := transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			slog.Info("engine_ready", fields...)
		},
		OnStop: func() {
			asyncObs.Close()
			if timelineObs != nil {
				_ = timelineObs.Close()
			}
			_ = store.Close()
			slog.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_calls", registry.ActiveCalls())
		},
	}

	drain := drainerFunc(func() error {
		_ = transport.Stop()
		return registry.Drain()
	})

	return &Engine{
		cfg:       cfg,
		transport: transport,
		registry:  registry,
		runner:    runner.NewLifecycleRunner(drain, hooks, 30*time.Second),
		asyncObs:  asyncObs,
		store:     store,
		log:       logger,
	}, nil
}

type drainerFunc func() error

func (f drainerFunc) Drain() error { return f() }

// Start brings up the transport and begins routing calls. It does not
// block; Stop tears everything down.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, e.cancel = context.WithCancel(ctx)
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	go func() {
		_ = e.registry.Run(ctx)
	}()
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Registry() *conversation.Registry { return e.registry }

func (e *Engine) Config() Config { return e.cfg }

func buildTransport(cfg Config, dialer transports.OutboundDialer) (transports.Transport, transports.OutboundDialer, error) {
	var s struct {
		AccountSID string `mapstructure:"account_sid"`
		AuthToken  string `mapstructure:"auth_token"`
	}
	if err := configutil.DecodeSettings(cfg.Transport.Settings, &s); err != nil {
		return nil, nil, fmt.Errorf("transport settings: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Vendor)) {
	case "twilio":
		if dialer == nil && s.AccountSID != "" && s.AuthToken != "" {
			dialer = media.NewTwilioDialer(s.AccountSID, s.AuthToken)
		}
		return media.NewServer(cfg.Server, media.NewTwilioProtocol(s.AuthToken)), dialer, nil
	case "telnyx":
		return media.NewServer(cfg.Server, media.NewTelnyxProtocol()), dialer, nil
	case "plivo":
		return media.NewServer(cfg.Server, media.NewPlivoProtocol()), dialer, nil
	case "mock":
		return transportmock.New(), dialer, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport vendor: %s", cfg.Transport.Vendor)
	}
}

func buildStore(cfg Config, logger *slog.Logger) (sessionstore.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "", "memory":
		return sessionstore.NewMemoryStore(), nil
	case "redis":
		primary := sessionstore.NewRedisStore(cfg.Store.Redis)
		res := sessionstore.NewResilient(primary, logger)
		if cfg.Store.RetryIntervalMS > 0 {
			res.RetryInterval = time.Duration(cfg.Store.RetryIntervalMS) * time.Millisecond
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

func buildDispatchers(cfg Config, reg *ProviderRegistry, obs metrics.Observer) (
	*dispatch.Dispatcher[stt.Request, stt.Transcript],
	*dispatch.Dispatcher[llm.Request, llm.Reply],
	*dispatch.Dispatcher[tts.Request, tts.Audio],
	error,
) {
	threshold := cfg.Dispatch.BreakerThreshold
	cooldown := time.Duration(cfg.Dispatch.BreakerCooldownMS) * time.Millisecond

	transcribers, err := reg.BuildSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, nil, err
	}
	sttDisp := stt.NewDispatcher(transcribers,
		dispatch.WithObserver[stt.Request, stt.Transcript](obs),
		dispatch.WithBreaker[stt.Request, stt.Transcript](threshold, cooldown),
	)

	generators, err := reg.BuildLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, nil, err
	}
	llmDisp := llm.NewDispatcher(generators,
		dispatch.WithObserver[llm.Request, llm.Reply](obs),
		dispatch.WithBreaker[llm.Request, llm.Reply](threshold, cooldown),
	)

	synthesizers, err := reg.BuildTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, nil, err
	}
	fallback, err := reg.BuildTTSFallback(cfg.Providers.TTSFallback)
	if err != nil {
		return nil, nil, nil, err
	}
	ttsDisp := tts.NewDispatcher(synthesizers, fallback,
		dispatch.WithObserver[tts.Request, tts.Audio](obs),
		dispatch.WithBreaker[tts.Request, tts.Audio](threshold, cooldown),
	)

	return sttDisp, llmDisp, ttsDisp, nil
}
