package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Config stores runtime configuration for the transcription server.
type Config struct {
	File     string
	Server   ServerConfig
	Database DatabaseConfig
	Deepgram DeepgramConfig
	OpenAI   OpenAIConfig
	Session  SessionConfig
	Filter   FilterConfig
	Log      LogConfig
}

type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Path string
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	Punctuate   bool
	KeepAlive   time.Duration
}

type OpenAIConfig struct {
	APIKey             string
	APIBaseURL         string
	TranscriptionModel string
	SummaryModel       string
}

type SessionConfig struct {
	MicChunkDuration time.Duration
	TabChunkDuration time.Duration
	MaxChunkBytes    int
	TickInterval     time.Duration
	PrimaryTimeout   time.Duration
	SecondaryTimeout time.Duration
	SummaryTimeout   time.Duration
	Encoding         string
	SampleRate       int
	Channels         int
}

type FilterConfig struct {
	Path string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load resolves configuration from environment variables, an optional INI
// file and defaults, in that order of precedence. An empty path falls back
// to LIVESCRIBE_CONFIG and then to ~/.config/livescribe/livescribe.ini.
func Load(path string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "livescribe")

	explicit := firstNonEmpty(path, os.Getenv("LIVESCRIBE_CONFIG"))
	file := explicit
	if file == "" {
		file = firstExisting(filepath.Join(configDir, "livescribe.ini"))
	}

	src := source{}
	if file != "" {
		loaded, err := ini.Load(file)
		switch {
		case err == nil:
			src.file = loaded
		case explicit == "" && errors.Is(err, os.ErrNotExist):
			file = ""
		default:
			return Config{}, fmt.Errorf("failed to load config file %q: %w", file, err)
		}
	}

	cfg := Config{
		File: file,
		Server: ServerConfig{
			Addr:            src.string("server", "addr", "LIVESCRIBE_ADDR", ":8080"),
			AllowedOrigins:  splitList(src.string("server", "allowed_origins", "LIVESCRIBE_ALLOWED_ORIGINS", "")),
			ShutdownTimeout: src.duration("server", "shutdown_timeout", "LIVESCRIBE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Path: src.string("database", "path", "LIVESCRIBE_DB_PATH", filepath.Join(home, ".local", "share", "livescribe", "livescribe.db")),
		},
		Deepgram: DeepgramConfig{
			APIKey:      src.string("deepgram", "api_key", "DEEPGRAM_API_KEY", ""),
			APIBaseURL:  src.string("deepgram", "api_base", "DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:       src.string("deepgram", "model", "DEEPGRAM_MODEL", "nova-2"),
			Language:    src.string("deepgram", "language", "DEEPGRAM_LANGUAGE", ""),
			SmartFormat: src.bool("deepgram", "smart_format", "DEEPGRAM_SMART_FORMAT", true),
			Punctuate:   src.bool("deepgram", "punctuate", "DEEPGRAM_PUNCTUATE", true),
			KeepAlive:   src.duration("deepgram", "keepalive_interval", "DEEPGRAM_KEEPALIVE_INTERVAL", 8*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:             src.string("openai", "api_key", "OPENAI_API_KEY", ""),
			APIBaseURL:         src.string("openai", "api_base", "OPENAI_API_BASE", "https://api.openai.com/v1"),
			TranscriptionModel: src.string("openai", "transcription_model", "OPENAI_TRANSCRIPTION_MODEL", "whisper-1"),
			SummaryModel:       src.string("openai", "summary_model", "OPENAI_SUMMARY_MODEL", "gpt-4o-mini"),
		},
		Session: SessionConfig{
			MicChunkDuration: src.duration("session", "mic_chunk_duration", "LIVESCRIBE_MIC_CHUNK_DURATION", 30*time.Second),
			TabChunkDuration: src.duration("session", "tab_chunk_duration", "LIVESCRIBE_TAB_CHUNK_DURATION", 5*time.Second),
			MaxChunkBytes:    src.int("session", "max_chunk_bytes", "LIVESCRIBE_MAX_CHUNK_BYTES", 8<<20),
			TickInterval:     src.duration("session", "tick_interval", "LIVESCRIBE_TICK_INTERVAL", 250*time.Millisecond),
			PrimaryTimeout:   src.duration("session", "primary_timeout", "LIVESCRIBE_PRIMARY_TIMEOUT", 15*time.Second),
			SecondaryTimeout: src.duration("session", "secondary_timeout", "LIVESCRIBE_SECONDARY_TIMEOUT", 10*time.Second),
			SummaryTimeout:   src.duration("session", "summary_timeout", "LIVESCRIBE_SUMMARY_TIMEOUT", 2*time.Minute),
			Encoding:         src.string("session", "encoding", "LIVESCRIBE_AUDIO_ENCODING", ""),
			SampleRate:       src.int("session", "sample_rate", "LIVESCRIBE_SAMPLE_RATE", 0),
			Channels:         src.int("session", "channels", "LIVESCRIBE_CHANNELS", 0),
		},
		Filter: FilterConfig{
			Path: src.string("filter", "path", "LIVESCRIBE_FILTER_FILE", firstExisting(filepath.Join(configDir, "placeholders.rules"))),
		},
		Log: LogConfig{
			Level:  strings.ToLower(src.string("log", "level", "LIVESCRIBE_LOG_LEVEL", "info")),
			Format: strings.ToLower(src.string("log", "format", "LIVESCRIBE_LOG_FORMAT", "text")),
		},
	}

	if cfg.Session.MicChunkDuration <= 0 {
		cfg.Session.MicChunkDuration = 30 * time.Second
	}
	if cfg.Session.TabChunkDuration <= 0 {
		cfg.Session.TabChunkDuration = 5 * time.Second
	}
	if cfg.Session.MaxChunkBytes < 0 {
		cfg.Session.MaxChunkBytes = 8 << 20
	}
	if cfg.Session.SampleRate < 0 {
		cfg.Session.SampleRate = 0
	}
	if cfg.Session.Channels < 0 {
		cfg.Session.Channels = 0
	}
	if cfg.Log.Format != "json" {
		cfg.Log.Format = "text"
	}

	return cfg, nil
}

// source looks a key up in the environment first, then the INI file.
type source struct {
	file *ini.File
}

func (s source) lookup(section, key, envKey string) string {
	if value := strings.TrimSpace(os.Getenv(envKey)); value != "" {
		return value
	}
	if s.file == nil {
		return ""
	}
	return strings.TrimSpace(s.file.Section(section).Key(key).String())
}

func (s source) string(section, key, envKey, fallback string) string {
	if value := s.lookup(section, key, envKey); value != "" {
		return value
	}
	return fallback
}

func (s source) int(section, key, envKey string, fallback int) int {
	value := s.lookup(section, key, envKey)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) bool(section, key, envKey string, fallback bool) bool {
	switch strings.ToLower(s.lookup(section, key, envKey)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// duration accepts Go durations ("30s") or a bare number of seconds.
func (s source) duration(section, key, envKey string, fallback time.Duration) time.Duration {
	value := s.lookup(section, key, envKey)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return fallback
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
