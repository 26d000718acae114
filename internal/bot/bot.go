package bot

import (
	"context"
	"errors"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/state"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/commands"
	"github.com/Raikerian/go-discord-recorder/internal/config"
	"github.com/Raikerian/go-discord-recorder/internal/voice"
)

// CommandSource looks commands up by name.
type CommandSource interface {
	GetCommand(name string) (commands.Command, bool)
}

// VoiceStateHandler is told about the bot's own voice state changes.
type VoiceStateHandler interface {
	HandleVoiceStateUpdate(guildID discord.GuildID, selfID discord.UserID, channelID discord.ChannelID)
}

// Bot routes gateway events to the commands and the recorder.
type Bot struct {
	state     *state.State
	responder commands.Responder
	cfg       *config.Config
	manager   *commands.CommandManager
	commands  CommandSource
	voice     VoiceStateHandler
	selfID    func() (discord.UserID, error)
	logger    *zap.Logger
}

// BotParams holds dependencies for NewBot.
type BotParams struct {
	fx.In
	Cfg      *config.Config
	State    *state.State
	Manager  *commands.CommandManager
	Recorder *voice.Recorder
	Logger   *zap.Logger
}

// NewBot creates the bot and subscribes it to gateway events.
func NewBot(params BotParams) (*Bot, error) {
	if params.State == nil {
		return nil, errors.New("state provided to NewBot is nil")
	}

	b := &Bot{
		state:     params.State,
		responder: params.State,
		cfg:       params.Cfg,
		manager:   params.Manager,
		commands:  params.Manager,
		voice:     params.Recorder,
		logger:    params.Logger.Named("bot"),
	}
	b.selfID = func() (discord.UserID, error) {
		me, err := b.state.Me()
		if err != nil {
			return 0, err
		}

		return me.ID, nil
	}

	params.State.AddHandler(func(e *gateway.InteractionCreateEvent) {
		b.handleInteraction(context.Background(), e)
	})
	params.State.AddHandler(b.handleVoiceStateUpdate)

	return b, nil
}

// Start registers the slash commands with Discord.
func (b *Bot) Start(_ context.Context) error {
	guildIDs := make([]discord.GuildID, 0, len(b.cfg.Discord.GuildIDs))
	for _, idStr := range b.cfg.Discord.GuildIDs {
		sf, err := discord.ParseSnowflake(idStr)
		if err != nil {
			b.logger.Error("Failed to parse guild ID", zap.String("guild_id", idStr), zap.Error(err))

			continue
		}
		guildIDs = append(guildIDs, discord.GuildID(sf))
	}
	if len(guildIDs) == 0 {
		b.logger.Info("No guild IDs configured, registering commands globally")
	}

	return b.manager.RegisterCommands(guildIDs)
}

// Stop is a no-op; the recorder and the gateway session have their own
// shutdown hooks.
func (b *Bot) Stop(_ context.Context) error {
	b.logger.Info("Bot stopping")

	return nil
}
