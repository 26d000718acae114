package voice

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

var Module = fx.Module("voice",
	fx.Provide(
		NewArikawaDialer,
		NewArikawaPresence,
		NewChannelNotifier,
		NewSessionRegistry,
		NewConnectionController,
		NewSpeakerStreamManager,
		NewFFmpegEncoder,
		NewMuxerFactory,
		NewRecorder,
	),
	fx.Invoke(registerShutdown),
)

// NewMuxerFactory opens file muxers under the configured recordings dir.
func NewMuxerFactory(cfg *config.Config, encoder Encoder, logger *zap.Logger) MuxerFactory {
	dir := cfg.Recording.RecordingsDir

	return func(sessionID string) (SessionMuxer, error) {
		return NewFileMuxer(dir, sessionID, encoder, logger)
	}
}

func registerShutdown(lc fx.Lifecycle, recorder *Recorder) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return recorder.Shutdown(ctx)
		},
	})
}
