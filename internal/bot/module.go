// Package bot wires gateway events to the commands and the recorder.
package bot

import (
	"go.uber.org/fx"
)

// Module provides the bot.
var Module = fx.Module("bot",
	fx.Provide(NewBot),
)
