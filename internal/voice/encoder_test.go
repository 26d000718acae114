package voice

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

func newTestEncoder(t *testing.T, enc config.EncoderConfig) *FFmpegEncoder {
	t.Helper()

	cfg := &config.Config{}
	cfg.Recording.Encoder = enc

	return NewFFmpegEncoder(cfg, zaptest.NewLogger(t)).(*FFmpegEncoder)
}

func TestFFmpegEncoder_Args(t *testing.T) {
	tests := map[string]struct {
		enc  config.EncoderConfig
		want []string
	}{
		"mp3 without bitrate": {
			enc: config.EncoderConfig{Binary: "ffmpeg", Codec: "libmp3lame", Format: "mp3"},
			want: []string{
				"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
				"-f", "s16le", "-ar", "48000", "-ac", "2", "-i", "in.pcm",
				"-codec:a", "libmp3lame", "-f", "mp3", "out.mp3",
			},
		},
		"ogg with bitrate": {
			enc: config.EncoderConfig{Binary: "ffmpeg", Codec: "libopus", Format: "ogg", Bitrate: "64k"},
			want: []string{
				"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
				"-f", "s16le", "-ar", "48000", "-ac", "2", "-i", "in.pcm",
				"-codec:a", "libopus", "-b:a", "64k", "-f", "ogg", "out.mp3",
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := newTestEncoder(t, tt.enc)
			assert.Equal(t, tt.want, e.Args("in.pcm", "out.mp3"))
			assert.Equal(t, tt.enc.Format, e.Extension())
		})
	}
}

func TestFFmpegEncoder_NonZeroExit(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false binary not available")
	}

	dir := t.TempDir()
	in := filepath.Join(dir, "in.pcm")
	require.NoError(t, os.WriteFile(in, []byte{0, 0}, 0o644))

	e := newTestEncoder(t, config.EncoderConfig{Binary: bin, Codec: "libmp3lame", Format: "mp3", Timeout: 5 * time.Second})
	err = e.Encode(context.Background(), in, filepath.Join(dir, "out.mp3"))
	require.ErrorIs(t, err, ErrEncodeFailed)
	assert.Contains(t, err.Error(), "exited with code 1")
}

func TestFFmpegEncoder_Timeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "slow-ffmpeg")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 10\n"), 0o755))

	e := newTestEncoder(t, config.EncoderConfig{Binary: script, Format: "mp3", Timeout: 50 * time.Millisecond})
	e.WaitDelay = 100 * time.Millisecond

	start := time.Now()
	err := e.Encode(context.Background(), "in", filepath.Join(dir, "out.mp3"))
	require.ErrorIs(t, err, ErrEncodeFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFFmpegEncoder_MissingBinary(t *testing.T) {
	e := newTestEncoder(t, config.EncoderConfig{Binary: "/nonexistent/ffmpeg", Format: "mp3"})

	err := e.Encode(context.Background(), "in", "out")
	assert.ErrorIs(t, err, ErrEncodeFailed)
}

func TestTail(t *testing.T) {
	tests := map[string]struct {
		in   string
		n    int
		want string
	}{
		"short":              {in: "  all fine \n", n: 16, want: "all fine"},
		"ascii":              {in: "0123456789", n: 4, want: "...6789"},
		"cut inside a rune":  {in: "ééé", n: 3, want: "...é"},
		"on a rune boundary": {in: "ééé", n: 4, want: "...éé"},
		"wide runes":         {in: "错误:编码失败", n: 7, want: "...失败"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := tail(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
