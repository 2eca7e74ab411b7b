package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"livescribe/internal/config"
	"livescribe/internal/domain"
	"livescribe/internal/filter"
	"livescribe/internal/ports"
	"livescribe/internal/providers/deepgram"
	"livescribe/internal/providers/openai"
	"livescribe/internal/store"
	"livescribe/internal/transport/ws"
	"livescribe/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Logger     *slog.Logger
	Store      *store.Store
	Hub        *ws.Hub
	Controller *usecase.SessionController
	Server     *ws.Server
}

// Close releases resources owned by the graph. The controller must be shut
// down first.
func (s Services) Close() error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

// Build loads configuration from configPath and wires all runtime
// dependencies.
func Build(configPath string) (Services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, NewLogger(cfg.Log, os.Stderr))
}

// BuildWithConfig wires the graph from an already loaded configuration.
func BuildWithConfig(cfg config.Config, logger *slog.Logger) (Services, error) {
	contentFilter, err := filter.New(cfg.Filter.Path)
	if err != nil {
		return Services{}, err
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return Services{}, err
	}

	if cfg.Deepgram.APIKey == "" {
		logger.Warn("DEEPGRAM_API_KEY is not set; chunks go to the fallback backend only")
	}
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set; fallback transcription and summaries will fail")
	}

	openaiCfg := openai.Config{
		APIKey:             cfg.OpenAI.APIKey,
		APIBaseURL:         cfg.OpenAI.APIBaseURL,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		SummaryModel:       cfg.OpenAI.SummaryModel,
	}

	selector := usecase.NewBackendSelector(
		deepgram.NewProvider(deepgram.Config{
			APIKey:            cfg.Deepgram.APIKey,
			APIBaseURL:        cfg.Deepgram.APIBaseURL,
			Model:             cfg.Deepgram.Model,
			Language:          cfg.Deepgram.Language,
			SmartFormat:       cfg.Deepgram.SmartFormat,
			Punctuate:         cfg.Deepgram.Punctuate,
			KeepAliveInterval: cfg.Deepgram.KeepAlive,
		}),
		openai.NewTranscriber(openaiCfg, cfg.Deepgram.Language),
		contentFilter,
		usecase.NewLiveRegistry(),
		usecase.SelectorConfig{
			Streaming: ports.StreamingConfig{
				SampleRate: cfg.Session.SampleRate,
				Channels:   cfg.Session.Channels,
				Encoding:   cfg.Session.Encoding,
				Language:   cfg.Deepgram.Language,
			},
			PrimaryTimeout:   cfg.Session.PrimaryTimeout,
			SecondaryTimeout: cfg.Session.SecondaryTimeout,
		},
		logger,
	)

	hub := ws.NewHub(logger)
	controller := usecase.NewSessionController(
		db,
		selector,
		openai.NewSummarizer(openaiCfg),
		contentFilter,
		hub,
		usecase.Config{
			ChunkDurations: map[domain.RecordingMode]time.Duration{
				domain.RecordingModeMic: cfg.Session.MicChunkDuration,
				domain.RecordingModeTab: cfg.Session.TabChunkDuration,
			},
			MaxChunkBytes:  cfg.Session.MaxChunkBytes,
			TickInterval:   cfg.Session.TickInterval,
			SummaryTimeout: cfg.Session.SummaryTimeout,
		},
		logger,
	)

	server := ws.NewServer(
		ws.ServerConfig{AllowedOrigins: cfg.Server.AllowedOrigins},
		controller,
		controller,
		db,
		hub,
		logger,
	)

	logger.Info("services ready",
		slog.String("database", cfg.Database.Path),
		slog.Int("filter_rules", contentFilter.Len()),
		slog.String("config_file", cfg.File),
	)

	return Services{
		Config:     cfg,
		Logger:     logger,
		Store:      db,
		Hub:        hub,
		Controller: controller,
		Server:     server,
	}, nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// OpenStore opens only the database, for commands that do not serve.
func OpenStore(configPath string) (*store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Database.Path, err)
	}
	return db, nil
}
