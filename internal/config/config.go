package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ProviderOpenAI   = "openai"
	ProviderGoogle   = "google"
	ProviderDeepgram = "deepgram"
	ProviderClova    = "clova"

	ModeBatch     = "batch"
	ModeStreaming = "streaming"
)

// Config stores runtime configuration for the desktop shell and the HTTP service.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	OpenAI   OpenAIConfig
	Speech   SpeechConfig
	Deepgram DeepgramConfig
	Google   GoogleConfig
	Clova    ClovaConfig
	Audio    AudioConfig
	Rules    RulesConfig
	Session  SessionConfig
}

type ServerConfig struct {
	Addr        string
	GinMode     string
	CORSOrigins []string
}

type LogConfig struct {
	Mode string
}

type DatabaseConfig struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret  string
	SessionTTL time.Duration
	OwnerID    string
}

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	DiagnosisModel  string
	ReviewModel     string
	ChatModel       string
	RealtimeModel   string
	RealtimeURL     string
	Timeout         time.Duration
	MaxRetries      int
}

type SpeechConfig struct {
	Provider string
	Mode     string
	Language string
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

type GoogleConfig struct {
	Model           string
	CredentialsFile string
	Punctuation     bool
}

type ClovaConfig struct {
	ClientID     string
	ClientSecret string
	URL          string
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type SessionConfig struct {
	EndGrace        time.Duration
	SegmentDuration time.Duration
	ChunkSize       int
	StreamingGrace  time.Duration
	ReviewTimeout   time.Duration
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	rulesPath := strings.TrimSpace(os.Getenv("MEDINOTE_RULES_FILE"))
	if rulesPath == "" {
		rulesPath = firstExisting(
			filepath.Join(home, ".config", "medinote", "terminology.rules"),
			filepath.Join(home, ".config", "medinote", "substitutions.rules"),
		)
	}

	language := envOrDefault("MEDINOTE_LANGUAGE", "ko")
	cfg := Config{
		Server: ServerConfig{
			Addr:        envOrDefault("MEDINOTE_HTTP_ADDR", ":8080"),
			GinMode:     envOrDefault("MEDINOTE_GIN_MODE", "release"),
			CORSOrigins: splitList(envOrDefault("MEDINOTE_CORS_ORIGINS", "http://localhost:5173")),
		},
		Log: LogConfig{
			Mode: envOrDefault("MEDINOTE_LOG_MODE", "dev"),
		},
		Database: DatabaseConfig{
			Driver:      strings.ToLower(envOrDefault("MEDINOTE_DB_DRIVER", DriverSQLite)),
			SQLitePath:  envOrDefault("MEDINOTE_SQLITE_PATH", filepath.Join(home, ".local", "share", "medinote", "medinote.db")),
			PostgresDSN: strings.TrimSpace(os.Getenv("MEDINOTE_POSTGRES_DSN")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(os.Getenv("MEDINOTE_REDIS_ADDR")),
			Password: os.Getenv("MEDINOTE_REDIS_PASSWORD"),
			DB:       envOrDefaultInt("MEDINOTE_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:  strings.TrimSpace(os.Getenv("MEDINOTE_JWT_SECRET")),
			SessionTTL: time.Duration(envOrDefaultInt("MEDINOTE_SESSION_TTL_HOURS", 24)) * time.Hour,
			OwnerID:    envOrDefault("MEDINOTE_OWNER_ID", "local-clinician"),
		},
		OpenAI: OpenAIConfig{
			APIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			BaseURL:         envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			TranscribeModel: envOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
			DiagnosisModel:  envOrDefault("OPENAI_DIAGNOSIS_MODEL", "gpt-4.1"),
			ReviewModel:     envOrDefault("OPENAI_REVIEW_MODEL", "gpt-4o-mini"),
			ChatModel:       envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			RealtimeModel:   envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
			RealtimeURL:     envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
			Timeout:         time.Duration(envOrDefaultInt("OPENAI_TIMEOUT_SECONDS", 60)) * time.Second,
			MaxRetries:      envOrDefaultInt("OPENAI_MAX_RETRIES", 2),
		},
		Speech: SpeechConfig{
			Provider: strings.ToLower(envOrDefault("MEDINOTE_STT_PROVIDER", ProviderOpenAI)),
			Mode:     strings.ToLower(envOrDefault("MEDINOTE_STT_MODE", ModeBatch)),
			Language: language,
		},
		Deepgram: DeepgramConfig{
			APIKey:      strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:  envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:       envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:    envOrDefault("DEEPGRAM_LANGUAGE", language),
			SmartFormat: envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
		},
		Google: GoogleConfig{
			Model:           envOrDefault("GOOGLE_SPEECH_MODEL", "latest_long"),
			CredentialsFile: strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
			Punctuation:     envOrDefaultBool("GOOGLE_SPEECH_PUNCTUATION", true),
		},
		Clova: ClovaConfig{
			ClientID:     strings.TrimSpace(os.Getenv("NAVER_CLOVA_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("NAVER_CLOVA_CLIENT_SECRET")),
			URL:          envOrDefault("NAVER_CLOVA_URL", "https://naveropenapi.apigw.ntruss.com/recog/v1/stt"),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("MEDINOTE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("MEDINOTE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("MEDINOTE_AUDIO_INPUT_DEVICE"),
				os.Getenv("PULSE_SOURCE"),
				"default",
			),
			SampleRate: envOrDefaultInt("MEDINOTE_SAMPLE_RATE", 16000),
			Channels:   envOrDefaultInt("MEDINOTE_CHANNELS", 1),
		},
		Rules: RulesConfig{
			Path:           rulesPath,
			IterationLimit: envOrDefaultInt("MEDINOTE_RULE_ITERATION_LIMIT", 30),
		},
		Session: SessionConfig{
			EndGrace:        time.Duration(firstNonNegativeInt("MEDINOTE_END_GRACE_MS", "", 3000)) * time.Millisecond,
			SegmentDuration: time.Duration(envOrDefaultInt("MEDINOTE_SEGMENT_SECONDS", 10)) * time.Second,
			ChunkSize:       envOrDefaultInt("MEDINOTE_AUDIO_CHUNK_SIZE", 4096),
			StreamingGrace:  time.Duration(firstNonNegativeInt("MEDINOTE_STREAMING_GRACE_MS", "DEEPGRAM_STREAMING_GRACE_MS", 1000)) * time.Millisecond,
			ReviewTimeout:   time.Duration(envOrDefaultInt("MEDINOTE_REVIEW_TIMEOUT_SECONDS", 60)) * time.Second,
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.EndGrace <= 0 {
		cfg.Session.EndGrace = 3 * time.Second
	}
	if cfg.Session.SegmentDuration <= 0 {
		cfg.Session.SegmentDuration = 10 * time.Second
	}
	if cfg.Session.ReviewTimeout <= 0 {
		cfg.Session.ReviewTimeout = 60 * time.Second
	}
	if cfg.Auth.SessionTTL <= 0 {
		cfg.Auth.SessionTTL = 24 * time.Hour
	}
	if cfg.OpenAI.Timeout <= 0 {
		cfg.OpenAI.Timeout = 60 * time.Second
	}
	if cfg.OpenAI.MaxRetries < 0 {
		cfg.OpenAI.MaxRetries = 0
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.PostgresDSN == "" {
			return errors.New("MEDINOTE_POSTGRES_DSN is required when MEDINOTE_DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported MEDINOTE_DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Speech.Provider {
	case ProviderOpenAI, ProviderGoogle, ProviderDeepgram, ProviderClova:
	default:
		return fmt.Errorf("unsupported MEDINOTE_STT_PROVIDER %q", c.Speech.Provider)
	}
	switch c.Speech.Mode {
	case ModeBatch, ModeStreaming:
	default:
		return fmt.Errorf("unsupported MEDINOTE_STT_MODE %q", c.Speech.Mode)
	}
	return nil
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
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
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

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func firstNonNegativeInt(primary string, secondary string, fallback int) int {
	for _, key := range []string{primary, secondary} {
		if key == "" {
			continue
		}
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}
