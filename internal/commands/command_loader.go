package commands

import (
	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CommandManager holds the loaded commands and registers them with Discord.
type CommandManager struct {
	session       *session.Session
	applicationID discord.AppID
	logger        *zap.Logger
	commands      map[string]Command
	order         []Command
}

// CommandManagerParams holds dependencies for NewCommandManager.
type CommandManagerParams struct {
	fx.In
	Session       *session.Session `optional:"true"`
	ApplicationID discord.AppID
	Logger        *zap.Logger
	Commands      []Command `group:"commands"`
}

// NewCommandManager creates a new CommandManager. When two commands share a
// name the first one wins.
func NewCommandManager(params CommandManagerParams) *CommandManager {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cm := &CommandManager{
		session:       params.Session,
		applicationID: params.ApplicationID,
		logger:        logger,
		commands:      make(map[string]Command, len(params.Commands)),
	}

	for _, cmd := range params.Commands {
		if cmd == nil {
			continue
		}
		name := cmd.Name()
		if _, exists := cm.commands[name]; exists {
			logger.Warn("Duplicate command name, keeping the first one", zap.String("command", name))

			continue
		}
		cm.commands[name] = cmd
		cm.order = append(cm.order, cmd)
	}

	logger.Info("Loaded slash commands", zap.Int("count", len(cm.order)))

	return cm
}

// GetCommand retrieves a loaded command by its name.
func (cm *CommandManager) GetCommand(name string) (Command, bool) {
	cmd, ok := cm.commands[name]

	return cmd, ok
}

func (cm *CommandManager) createData() []api.CreateCommandData {
	cmds := make([]api.CreateCommandData, 0, len(cm.order))
	for _, cmd := range cm.order {
		cmds = append(cmds, api.CreateCommandData{
			Name:        cmd.Name(),
			Description: cmd.Description(),
			Options:     cmd.Options(),
		})
	}

	return cmds
}

// RegisterCommands registers all loaded commands for the given guilds, or
// globally when no guild is given.
func (cm *CommandManager) RegisterCommands(guildIDs []discord.GuildID) error {
	cmds := cm.createData()
	if len(cmds) == 0 {
		cm.logger.Info("No commands to register")

		return nil
	}

	if len(guildIDs) == 0 {
		registered, err := cm.session.BulkOverwriteCommands(cm.applicationID, cmds)
		if err != nil {
			return err
		}
		cm.logger.Info("Registered global slash commands",
			zap.Int("count", len(registered)),
			zap.Stringer("application_id", cm.applicationID))

		return nil
	}

	for _, guildID := range guildIDs {
		registered, err := cm.session.BulkOverwriteGuildCommands(cm.applicationID, guildID, cmds)
		if err != nil {
			cm.logger.Error("Failed to register commands for guild",
				zap.Error(err),
				zap.Stringer("application_id", cm.applicationID),
				zap.Stringer("guild_id", guildID))

			continue
		}
		cm.logger.Info("Registered slash commands for guild",
			zap.Int("count", len(registered)),
			zap.Stringer("guild_id", guildID))
	}

	return nil
}
