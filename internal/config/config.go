package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Handoff providers.
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

// DiscordConfig stores Discord specific configurations.
type DiscordConfig struct {
	BotToken      string             `yaml:"bot_token" env:"DISCORD_BOT_TOKEN, overwrite"`
	ApplicationID *discord.Snowflake `yaml:"application_id" env:"DISCORD_APPLICATION_ID, overwrite, noinit"`
	GuildIDs      []string           `yaml:"guild_ids" env:"DISCORD_GUILD_IDS, overwrite"`
}

// OpenAIConfig stores OpenAI specific configurations. It is only consulted
// when a handoff stage uses the openai provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY, overwrite"`
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL, overwrite"`
}

// EncoderConfig describes the external encoder invocation.
type EncoderConfig struct {
	Binary  string        `yaml:"binary" env:"RECORDER_FFMPEG, overwrite"`
	Codec   string        `yaml:"codec"`
	Format  string        `yaml:"format"`
	Bitrate string        `yaml:"bitrate"`
	Timeout time.Duration `yaml:"timeout"`
}

// RecordingConfig controls capture and the local artifact layout.
type RecordingConfig struct {
	RecordingsDir         string        `yaml:"recordings_dir" env:"RECORDER_RECORDINGS_DIR, overwrite"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions"`
	Encoder               EncoderConfig `yaml:"encoder"`
}

// ServiceConfig configures one downstream handoff stage.
type ServiceConfig struct {
	Provider string        `yaml:"provider" env:"PROVIDER, overwrite"`
	URL      string        `yaml:"url" env:"URL, overwrite"`
	Model    string        `yaml:"model" env:"MODEL, overwrite"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT, overwrite"`
}

// HandoffConfig controls transcription, summarization and result storage.
type HandoffConfig struct {
	SessionsDir     string        `yaml:"sessions_dir" env:"RECORDER_SESSIONS_DIR, overwrite"`
	ResultCacheSize int           `yaml:"result_cache_size"`
	Transcription   ServiceConfig `yaml:"transcription" env:", prefix=TRANSCRIPTION_"`
	Summarization   ServiceConfig `yaml:"summarization" env:", prefix=SUMMARIZATION_"`
}

// ArchiveConfig configures the optional S3 compatible recording archive.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ARCHIVE_ENABLED, overwrite"`
	Endpoint  string `yaml:"endpoint" env:"ARCHIVE_ENDPOINT, overwrite"`
	AccessKey string `yaml:"access_key" env:"ARCHIVE_ACCESS_KEY, overwrite"`
	SecretKey string `yaml:"secret_key" env:"ARCHIVE_SECRET_KEY, overwrite"`
	Bucket    string `yaml:"bucket" env:"ARCHIVE_BUCKET, overwrite"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl" env:"ARCHIVE_USE_SSL, overwrite"`
}

// MetricsConfig controls the prometheus scrape endpoint. An empty Addr
// disables the listener; instruments are still recorded.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR, overwrite"`
}

// Config stores the application configuration.
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Recording RecordingConfig `yaml:"recording"`
	Handoff   HandoffConfig   `yaml:"handoff"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level" env:"LOG_LEVEL, overwrite"`
	LogFormat string          `yaml:"log_format" env:"LOG_FORMAT, overwrite"`
}

// LoadConfig loads the configuration from the given file path, overlays
// environment variables (including a .env file when present), applies
// defaults and validates the result.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}

	r := &c.Recording
	if r.RecordingsDir == "" {
		r.RecordingsDir = "recordings"
	}
	if r.ConnectTimeout <= 0 {
		r.ConnectTimeout = 30 * time.Second
	}
	if r.MaxConcurrentSessions <= 0 {
		r.MaxConcurrentSessions = 10
	}
	if r.Encoder.Binary == "" {
		r.Encoder.Binary = "ffmpeg"
	}
	if r.Encoder.Codec == "" {
		r.Encoder.Codec = "libmp3lame"
	}
	if r.Encoder.Format == "" {
		r.Encoder.Format = "mp3"
	}
	if r.Encoder.Timeout <= 0 {
		r.Encoder.Timeout = 2 * time.Minute
	}

	h := &c.Handoff
	if h.SessionsDir == "" {
		h.SessionsDir = "sessions"
	}
	if h.ResultCacheSize <= 0 {
		h.ResultCacheSize = 64
	}
	if h.Transcription.Provider == "" {
		h.Transcription.Provider = ProviderHTTP
	}
	if h.Transcription.Provider == ProviderHTTP && h.Transcription.URL == "" {
		h.Transcription.URL = "http://localhost:8000/transcribe/"
	}
	if h.Transcription.Timeout <= 0 {
		h.Transcription.Timeout = 10 * time.Minute
	}
	if h.Summarization.Provider == "" {
		h.Summarization.Provider = ProviderHTTP
	}
	if h.Summarization.Provider == ProviderHTTP && h.Summarization.URL == "" {
		h.Summarization.URL = "http://localhost:4000/llm"
	}
	if h.Summarization.Timeout <= 0 {
		h.Summarization.Timeout = 5 * time.Minute
	}

	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "recordings"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Discord.BotToken == "" {
		return errors.New("discord.bot_token is not set")
	}
	if c.Discord.ApplicationID == nil || *c.Discord.ApplicationID == 0 {
		return errors.New("discord.application_id is not set")
	}

	stages := []struct {
		name string
		svc  ServiceConfig
	}{
		{"transcription", c.Handoff.Transcription},
		{"summarization", c.Handoff.Summarization},
	}
	for _, st := range stages {
		name, svc := st.name, st.svc
		switch svc.Provider {
		case ProviderHTTP:
			if svc.URL == "" {
				return fmt.Errorf("handoff.%s.url is required for the http provider", name)
			}
		case ProviderOpenAI:
			if c.OpenAI.APIKey == "" {
				return fmt.Errorf("openai.api_key is required for the openai %s provider", name)
			}
		default:
			return fmt.Errorf("handoff.%s.provider %q is not supported", name, svc.Provider)
		}
	}

	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		return errors.New("archive.endpoint and archive.bucket are required when the archive is enabled")
	}

	return nil
}

// UsesOpenAI reports whether any handoff stage needs an OpenAI client.
func (c *Config) UsesOpenAI() bool {
	return c.Handoff.Transcription.Provider == ProviderOpenAI ||
		c.Handoff.Summarization.Provider == ProviderOpenAI
}
