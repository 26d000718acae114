package commands

import (
	"context"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
)

// AppVersion is the version of the application, set at build time with
// -ldflags "-X .../internal/commands.AppVersion=...".
var AppVersion = "dev"

// VersionCommand responds with the application version.
type VersionCommand struct{}

func NewVersionCommand() Command {
	return &VersionCommand{}
}

func (c *VersionCommand) Name() string {
	return "version"
}

func (c *VersionCommand) Description() string {
	return "Displays the current version of the bot."
}

func (c *VersionCommand) Options() []discord.CommandOption {
	return nil
}

func (c *VersionCommand) Execute(_ context.Context, s Responder, e *gateway.InteractionCreateEvent, _ *discord.CommandInteraction) error {
	return respond(s, e, "Version: "+AppVersion)
}
