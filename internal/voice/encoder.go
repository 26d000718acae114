package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
	"github.com/Raikerian/go-discord-recorder/pkg/audio"
)

// Encoder converts a raw PCM capture into the delivery format.
type Encoder interface {
	// Encode reads raw s16le 48 kHz stereo from in and writes out. It must
	// not return before the child process has exited.
	Encode(ctx context.Context, in, out string) error

	// Extension is the delivery file extension without the dot.
	Extension() string
}

// FFmpegEncoder shells out to ffmpeg with explicit input parameters.
type FFmpegEncoder struct {
	Binary  string
	Codec   string
	Format  string
	Bitrate string
	Timeout time.Duration

	// WaitDelay bounds how long a cancelled ffmpeg gets between SIGTERM and
	// SIGKILL.
	WaitDelay time.Duration

	logger *zap.Logger
}

func NewFFmpegEncoder(cfg *config.Config, logger *zap.Logger) Encoder {
	enc := cfg.Recording.Encoder

	return &FFmpegEncoder{
		Binary:    enc.Binary,
		Codec:     enc.Codec,
		Format:    enc.Format,
		Bitrate:   enc.Bitrate,
		Timeout:   enc.Timeout,
		WaitDelay: 5 * time.Second,
		logger:    logger,
	}
}

func (e *FFmpegEncoder) Extension() string {
	return e.Format
}

// Args returns the ffmpeg argument list for one conversion.
func (e *FFmpegEncoder) Args(in, out string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-f", audio.RawFormat,
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", in,
		"-codec:a", e.Codec,
	}
	if e.Bitrate != "" {
		args = append(args, "-b:a", e.Bitrate)
	}
	args = append(args, "-f", e.Format, out)

	return args
}

func (e *FFmpegEncoder) Encode(ctx context.Context, in, out string) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.Binary, e.Args(in, out)...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.WaitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		e.logger.Debug("Encoded recording",
			zap.String("input", in),
			zap.String("output", out),
			zap.Duration("took", time.Since(start)))

		return nil
	}

	_ = os.Remove(out)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s did not finish: %w", ErrEncodeFailed, e.Binary, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %s exited with code %d: %s",
			ErrEncodeFailed, e.Binary, exitErr.ExitCode(), tail(stderr.String(), 512))
	}

	return fmt.Errorf("%w: run %s: %w", ErrEncodeFailed, e.Binary, err)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}

	return "..." + s[start:]
}
