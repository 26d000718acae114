package bot

import (
	"context"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/utils/json/option"
	"go.uber.org/zap"
)

func (b *Bot) handleInteraction(ctx context.Context, e *gateway.InteractionCreateEvent) {
	data, ok := e.Data.(*discord.CommandInteraction)
	if !ok {
		b.logger.Debug("Received unhandled interaction type", zap.Any("type", e.Data))

		return
	}

	logger := b.logger.With(
		zap.String("command", data.Name),
		zap.String("guild_id", e.GuildID.String()),
		zap.String("user_id", e.SenderID().String()))
	logger.Info("Received slash command")

	cmd, ok := b.commands.GetCommand(data.Name)
	if !ok {
		logger.Warn("Unknown command")
		b.reply(e, "Command not found.")

		return
	}

	if err := cmd.Execute(ctx, b.responder, e, data); err != nil {
		logger.Error("Error executing command", zap.Error(err))
		b.reply(e, "An error occurred while executing the command.")

		return
	}

	logger.Debug("Command executed")
}

func (b *Bot) reply(e *gateway.InteractionCreateEvent, content string) {
	err := b.responder.RespondInteraction(e.ID, e.Token, api.InteractionResponse{
		Type: api.MessageInteractionWithSource,
		Data: &api.InteractionResponseData{
			Content: option.NewNullableString(content),
			Flags:   discord.EphemeralMessage,
		},
	})
	if err != nil {
		b.logger.Debug("Failed to send interaction reply", zap.Error(err))
	}
}

// handleVoiceStateUpdate forwards the bot's own voice state so the recorder
// notices when it is disconnected or kicked from the channel.
func (b *Bot) handleVoiceStateUpdate(e *gateway.VoiceStateUpdateEvent) {
	self, err := b.selfID()
	if err != nil {
		b.logger.Debug("Own user is not known yet", zap.Error(err))

		return
	}
	if e.UserID != self {
		return
	}

	b.logger.Debug("Own voice state changed",
		zap.String("guild_id", e.GuildID.String()),
		zap.String("channel_id", e.ChannelID.String()))

	b.voice.HandleVoiceStateUpdate(e.GuildID, self, e.ChannelID)
}
