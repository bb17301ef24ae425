package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"medinote/internal/audio"
	"medinote/internal/auth"
	"medinote/internal/config"
	"medinote/internal/httpapi"
	"medinote/internal/logger"
	"medinote/internal/ports"
	"medinote/internal/providers/clova"
	"medinote/internal/providers/deepgram"
	"medinote/internal/providers/gcpspeech"
	"medinote/internal/providers/openai"
	"medinote/internal/rules"
	"medinote/internal/store"
	"medinote/internal/usecase"
)

// Runtime is the part of the graph both entry points share.
type Runtime struct {
	Config      config.Config
	Log         *logger.Logger
	DB          *gorm.DB
	Records     *store.Records
	OpenAI      *openai.Client
	Deepgram    *deepgram.Client
	Transcriber ports.Transcriber
	Terminology *rules.Terminology

	closers []func() error
}

// Desktop is the single-clinician graph behind the desktop shell.
type Desktop struct {
	*Runtime
	Workflow *usecase.ConsultationWorkflow
}

// Server is the multi-clinician HTTP graph.
type Server struct {
	*Runtime
	HTTP      *http.Server
	Workflows *usecase.WorkflowRegistry
	Accounts  *auth.Service
	Events    *httpapi.Broker

	sessions *store.Sessions
}

// BuildDesktop wires the workflow to the local microphone. Events go to sink.
func BuildDesktop(ctx context.Context, sink ports.EventSink) (*Desktop, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var streaming ports.StreamingProvider
	if cfg.Speech.Mode == config.ModeStreaming {
		streaming = rt.Deepgram
	}
	recorder := usecase.NewRecorder(audio.NewMicrophone(cfg.Audio.RecorderCommand), streaming, usecase.RecorderConfig{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Streaming: ports.StreamingConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			Encoding:       "linear16",
			InterimResults: true,
		},
		ChunkSize:       cfg.Session.ChunkSize,
		SegmentDuration: cfg.Session.SegmentDuration,
		StreamingGrace:  cfg.Session.StreamingGrace,
	})

	workflow := usecase.NewConsultationWorkflow(rt.dependencies(recorder, sink), rt.workflowConfig(cfg.Auth.OwnerID))
	log.Info("desktop runtime ready", "stt_provider", cfg.Speech.Provider, "stt_mode", cfg.Speech.Mode, "rules", rt.Terminology.Len())
	return &Desktop{Runtime: rt, Workflow: workflow}, nil
}

// BuildServer wires the HTTP API. When MEDINOTE_REDIS_ADDR is set, sessions
// and workflow events go through Redis; otherwise sessions live in the database.
func BuildServer(ctx context.Context) (*Server, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	srv, err := rt.server(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return srv, nil
}

func (rt *Runtime) server(ctx context.Context) (*Server, error) {
	cfg, log := rt.Config, rt.Log
	broker := httpapi.NewBroker(log)

	var (
		sessions   auth.SessionStore
		dbSessions *store.Sessions
	)
	if cfg.Redis.Addr != "" {
		rdb, err := auth.DialRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rdb.Close)
		sessions = auth.NewRedisSessions(rdb)
		if err := broker.AttachBus(ctx, httpapi.NewRedisBus(rdb, "", log)); err != nil {
			return nil, err
		}
		log.Info("redis sessions and event bus enabled", "addr", cfg.Redis.Addr)
	} else {
		dbSessions = store.NewSessions(rt.DB)
		sessions = dbSessions
	}

	accounts, err := auth.NewService(store.NewUsers(rt.DB), sessions, cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return nil, err
	}

	workflows := usecase.NewWorkflowRegistry(func(ownerID string) *usecase.ConsultationWorkflow {
		return usecase.NewConsultationWorkflow(rt.dependencies(nil, broker.Sink(ownerID)), rt.workflowConfig(ownerID))
	})

	gin.SetMode(cfg.Server.GinMode)
	router := httpapi.RouterConfig{
		Log:                 log,
		CORSOrigins:         cfg.Server.CORSOrigins,
		AuthMiddleware:      httpapi.NewAuthMiddleware(log, accounts),
		AuthHandler:         httpapi.NewAuthHandler(accounts, workflows),
		ConsultationHandler: httpapi.NewConsultationHandler(workflows, broker),
		RecordHandler:       httpapi.NewRecordHandler(rt.Records),
		ProxyHandler: httpapi.NewProxyHandler(log, httpapi.ProxyDeps{
			Transcriber: rt.Transcriber,
			Diagnosis:   rt.OpenAI,
			Compliance:  rt.OpenAI,
			Chat:        rt.OpenAI,
			Records:     rt.Records,
		}),
		RealtimeRelay: httpapi.NewRealtimeRelay(log, httpapi.RealtimeConfig{
			APIKey: cfg.OpenAI.APIKey,
			URL:    cfg.OpenAI.RealtimeURL,
			Model:  cfg.OpenAI.RealtimeModel,
		}),
	}

	return &Server{
		Runtime:   rt,
		HTTP:      httpapi.NewServer(cfg.Server.Addr, router),
		Workflows: workflows,
		Accounts:  accounts,
		Events:    broker,
		sessions:  dbSessions,
	}, nil
}

// PurgeExpiredSessions deletes expired database sessions. Redis expires its
// own keys, so it is a no-op there.
func (s *Server) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	if s.sessions == nil {
		return 0, nil
	}
	return s.sessions.PurgeExpired(ctx)
}

func loadConfig() (config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func newRuntime(ctx context.Context, cfg config.Config, log *logger.Logger) (*Runtime, error) {
	terminology, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		Config:      cfg,
		Log:         log,
		DB:          db,
		Records:     store.NewRecords(db),
		Terminology: terminology,
	}
	rt.closers = append(rt.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	rt.OpenAI = openai.NewClient(openai.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		Language:        cfg.Speech.Language,
		TranscribeModel: cfg.OpenAI.TranscribeModel,
		DiagnosisModel:  cfg.OpenAI.DiagnosisModel,
		ReviewModel:     cfg.OpenAI.ReviewModel,
		ChatModel:       cfg.OpenAI.ChatModel,
		Timeout:         cfg.OpenAI.Timeout,
		MaxRetries:      cfg.OpenAI.MaxRetries,
	}, log)
	rt.Deepgram = deepgram.NewClient(deepgram.Config{
		APIKey:      cfg.Deepgram.APIKey,
		APIBaseURL:  cfg.Deepgram.APIBaseURL,
		Model:       cfg.Deepgram.Model,
		Language:    cfg.Deepgram.Language,
		SmartFormat: cfg.Deepgram.SmartFormat,
		MaxRetries:  cfg.OpenAI.MaxRetries,
	})

	switch cfg.Speech.Provider {
	case config.ProviderGoogle:
		google, err := gcpspeech.New(ctx, gcpspeech.Config{
			Model:           cfg.Google.Model,
			Language:        cfg.Speech.Language,
			CredentialsFile: cfg.Google.CredentialsFile,
			Punctuation:     cfg.Google.Punctuation,
			MaxRetries:      cfg.OpenAI.MaxRetries,
		})
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, google.Close)
		rt.Transcriber = google
	case config.ProviderDeepgram:
		rt.Transcriber = rt.Deepgram
	case config.ProviderClova:
		rt.Transcriber = clova.NewClient(clova.Config{
			ClientID:     cfg.Clova.ClientID,
			ClientSecret: cfg.Clova.ClientSecret,
			URL:          cfg.Clova.URL,
			Language:     cfg.Speech.Language,
			MaxRetries:   cfg.OpenAI.MaxRetries,
		})
	default:
		rt.Transcriber = rt.OpenAI
	}
	return rt, nil
}

func (rt *Runtime) dependencies(capture usecase.LocalCapture, sink ports.EventSink) usecase.Dependencies {
	return usecase.Dependencies{
		Store:       rt.Records,
		Transcriber: rt.Transcriber,
		Diagnosis:   rt.OpenAI,
		Compliance:  rt.OpenAI,
		Normalizer:  rt.Terminology,
		Capture:     capture,
		Events:      sink,
		Logger:      rt.Log,
	}
}

func (rt *Runtime) workflowConfig(ownerID string) usecase.WorkflowConfig {
	return usecase.WorkflowConfig{
		OwnerID:       ownerID,
		EndGrace:      rt.Config.Session.EndGrace,
		ReviewTimeout: rt.Config.Session.ReviewTimeout,
	}
}

// Close releases the database, Redis and speech clients in reverse order.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close runtime: %w", errors.Join(errs...))
	}
	return nil
}
