package commands

import (
	"context"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
)

// PingCommand is a simple command that responds with "Pong!".
type PingCommand struct{}

// NewPingCommand creates a new PingCommand instance.
func NewPingCommand() Command {
	return &PingCommand{}
}

func (c *PingCommand) Name() string {
	return "ping"
}

func (c *PingCommand) Description() string {
	return "Responds with Pong!"
}

func (c *PingCommand) Options() []discord.CommandOption {
	return nil
}

func (c *PingCommand) Execute(_ context.Context, s Responder, e *gateway.InteractionCreateEvent, _ *discord.CommandInteraction) error {
	return respond(s, e, "Pong!")
}
