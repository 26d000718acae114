// Package commands provides the slash commands and their Fx module.
package commands

import (
	"go.uber.org/fx"

	"github.com/Raikerian/go-discord-recorder/internal/handoff"
	"github.com/Raikerian/go-discord-recorder/internal/voice"
)

// Module provides command-related dependencies.
var Module = fx.Module("commands",
	fx.Provide(
		NewCommandManager,
		func(r *voice.Recorder) Recorder { return r },
		func(p *handoff.Pipeline) Results { return p },
		asCommand(NewPingCommand),
		asCommand(NewVersionCommand),
		asCommand(NewJoinCommand),
		asCommand(NewRecordCommand),
		asCommand(NewStopCommand),
		asCommand(NewStatusCommand),
		asCommand(NewSummaryCommand),
		asCommand(NewTranscriptCommand),
		asCommand(NewRetryCommand),
	),
)

func asCommand(constructor any) any {
	return fx.Annotate(
		constructor,
		fx.As(new(Command)),
		fx.ResultTags(`group:"commands"`),
	)
}
