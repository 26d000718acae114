// Package discord opens the gateway session the recorder runs on.
package discord

import (
	"context"
	"errors"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/state"
	"github.com/diamondburned/arikawa/v3/state/store"
	"github.com/diamondburned/arikawa/v3/state/store/defaultstore"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

// Intents are the gateway events the recorder consumes: guild and channel
// data for permission checks, voice states to find speakers and to notice
// the bot being disconnected, and members for display names. Message
// content is never read, commands arrive as interactions.
const Intents = gateway.IntentGuilds | gateway.IntentGuildVoiceStates | gateway.IntentGuildMembers

var Module = fx.Module("discord",
	fx.Provide(
		NewSession,
		NewState,
		ProvideApplicationID,
	),
)

// SessionParams holds dependencies for NewSession.
type SessionParams struct {
	fx.In
	Cfg    *config.Config
	LC     fx.Lifecycle
	Logger *zap.Logger
}

// NewSession creates the gateway session and ties it to the app lifecycle.
// Closing it on stop also drops any voice connection still open.
func NewSession(params SessionParams) (*session.Session, error) {
	if params.Cfg.Discord.BotToken == "" {
		return nil, errors.New("discord bot token is not set in config")
	}

	s := session.New("Bot " + params.Cfg.Discord.BotToken)
	s.AddIntents(Intents)

	params.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			params.Logger.Info("Connecting to Discord gateway")

			return s.Open(ctx)
		},
		OnStop: func(context.Context) error {
			params.Logger.Info("Disconnecting from Discord gateway")

			return s.Close()
		},
	})

	return s, nil
}

// NewState wraps the session in a cache. Messages and presences are never
// looked up, so they are not stored.
func NewState(s *session.Session, logger *zap.Logger) *state.State {
	cabinet := defaultstore.New()
	cabinet.MessageStore = store.Noop
	cabinet.PresenceStore = store.Noop

	logger.Debug("Discord state cache ready")

	return state.NewFromSession(s, cabinet)
}

// ProvideApplicationID returns the application slash commands are
// registered under.
func ProvideApplicationID(cfg *config.Config) (discord.AppID, error) {
	if cfg.Discord.ApplicationID == nil || !cfg.Discord.ApplicationID.IsValid() {
		return 0, errors.New("discord application id is not set in config")
	}

	return discord.AppID(*cfg.Discord.ApplicationID), nil
}
