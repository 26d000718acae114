package commands

import (
	"context"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
)

// Responder is the part of the Discord API the commands reply through.
// *session.Session and *state.State satisfy it.
type Responder interface {
	RespondInteraction(id discord.InteractionID, token string, resp api.InteractionResponse) error
	EditInteractionResponse(appID discord.AppID, token string, data api.EditInteractionResponseData) (*discord.Message, error)
}

// Command defines the interface for slash commands.
type Command interface {
	Name() string
	Description() string
	Options() []discord.CommandOption
	Execute(ctx context.Context, s Responder, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error
}
