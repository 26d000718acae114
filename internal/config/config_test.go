package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
discord:
  bot_token: token
  application_id: 1234
  guild_ids: ["42"]
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.Discord.BotToken)
	require.NotNil(t, cfg.Discord.ApplicationID)
	assert.EqualValues(t, 1234, *cfg.Discord.ApplicationID)
	assert.Equal(t, []string{"42"}, cfg.Discord.GuildIDs)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "recordings", cfg.Recording.RecordingsDir)
	assert.Equal(t, 30*time.Second, cfg.Recording.ConnectTimeout)
	assert.Equal(t, 10, cfg.Recording.MaxConcurrentSessions)
	assert.Equal(t, "ffmpeg", cfg.Recording.Encoder.Binary)
	assert.Equal(t, "libmp3lame", cfg.Recording.Encoder.Codec)
	assert.Equal(t, "mp3", cfg.Recording.Encoder.Format)
	assert.Equal(t, "sessions", cfg.Handoff.SessionsDir)
	assert.Equal(t, config.ProviderHTTP, cfg.Handoff.Transcription.Provider)
	assert.Equal(t, "http://localhost:8000/transcribe/", cfg.Handoff.Transcription.URL)
	assert.Equal(t, "http://localhost:4000/llm", cfg.Handoff.Summarization.URL)
	assert.False(t, cfg.UsesOpenAI())
}

func TestLoadConfig_YAMLValues(t *testing.T) {
	path := writeConfig(t, `
discord:
  bot_token: token
  application_id: 1
recording:
  recordings_dir: /var/lib/recorder/audio
  connect_timeout: 5s
  encoder:
    format: ogg
    codec: libopus
    bitrate: 64k
    timeout: 30s
handoff:
  transcription:
    provider: openai
    model: whisper-1
  summarization:
    url: http://llm:4000/llm
    timeout: 1m
openai:
  api_key: sk-test
log_level: debug
log_format: console
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/recorder/audio", cfg.Recording.RecordingsDir)
	assert.Equal(t, 5*time.Second, cfg.Recording.ConnectTimeout)
	assert.Equal(t, "ogg", cfg.Recording.Encoder.Format)
	assert.Equal(t, "libopus", cfg.Recording.Encoder.Codec)
	assert.Equal(t, "64k", cfg.Recording.Encoder.Bitrate)
	assert.Equal(t, 30*time.Second, cfg.Recording.Encoder.Timeout)
	assert.Equal(t, config.ProviderOpenAI, cfg.Handoff.Transcription.Provider)
	assert.Empty(t, cfg.Handoff.Transcription.URL)
	assert.Equal(t, "http://llm:4000/llm", cfg.Handoff.Summarization.URL)
	assert.Equal(t, time.Minute, cfg.Handoff.Summarization.Timeout)
	assert.True(t, cfg.UsesOpenAI())
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
discord:
  bot_token: from-file
  application_id: 1
`)

	t.Setenv("DISCORD_BOT_TOKEN", "from-env")
	t.Setenv("SUMMARIZATION_URL", "http://summarizer/llm")
	t.Setenv("ARCHIVE_ENABLED", "true")
	t.Setenv("ARCHIVE_ENDPOINT", "minio:9000")
	t.Setenv("ARCHIVE_BUCKET", "recordings")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Discord.BotToken)
	assert.Equal(t, "http://summarizer/llm", cfg.Handoff.Summarization.URL)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "minio:9000", cfg.Archive.Endpoint)
	assert.Equal(t, "recordings", cfg.Archive.Bucket)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := map[string]struct {
		body    string
		wantErr string
	}{
		"missing token": {
			body:    "discord:\n  application_id: 1\n",
			wantErr: "bot_token",
		},
		"missing application id": {
			body:    "discord:\n  bot_token: t\n",
			wantErr: "application_id",
		},
		"unknown provider": {
			body:    "discord:\n  bot_token: t\n  application_id: 1\nhandoff:\n  transcription:\n    provider: carrier-pigeon\n",
			wantErr: "not supported",
		},
		"openai without key": {
			body:    "discord:\n  bot_token: t\n  application_id: 1\nhandoff:\n  summarization:\n    provider: openai\n",
			wantErr: "openai.api_key",
		},
		"archive without bucket": {
			body:    "discord:\n  bot_token: t\n  application_id: 1\narchive:\n  enabled: true\n  endpoint: minio:9000\n",
			wantErr: "archive",
		},
		"malformed yaml": {
			body:    "discord: [",
			wantErr: "failed to parse",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
