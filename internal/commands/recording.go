package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/voice"
)

// Recorder is the recording engine as seen by the commands.
type Recorder interface {
	Start(ctx context.Context, req voice.StartRequest) (*voice.Session, error)
	Stop(ctx context.Context, guildID discord.GuildID) (*voice.RecordingArtifact, error)
	Status(guildID discord.GuildID) (voice.Status, error)
}

// StartCommand joins the caller's voice channel and starts recording. The
// join variant reuses a session already recording that channel; record
// insists on starting a new one.
type StartCommand struct {
	name        string
	description string
	exclusive   bool
	recorder    Recorder
	logger      *zap.Logger
}

func NewJoinCommand(recorder Recorder, logger *zap.Logger) Command {
	return &StartCommand{
		name:        "join",
		description: "Join your voice channel and start recording",
		recorder:    recorder,
		logger:      logger,
	}
}

func NewRecordCommand(recorder Recorder, logger *zap.Logger) Command {
	return &StartCommand{
		name:        "record",
		description: "Start a new recording in your voice channel",
		exclusive:   true,
		recorder:    recorder,
		logger:      logger,
	}
}

func (c *StartCommand) Name() string                     { return c.name }
func (c *StartCommand) Description() string              { return c.description }
func (c *StartCommand) Options() []discord.CommandOption { return nil }

func (c *StartCommand) Execute(ctx context.Context, s Responder, e *gateway.InteractionCreateEvent, _ *discord.CommandInteraction) error {
	if !e.GuildID.IsValid() {
		return respondError(s, e, "Recording only works in servers.")
	}

	if err := deferResponse(s, e); err != nil {
		return err
	}

	sess, err := c.recorder.Start(ctx, voice.StartRequest{
		GuildID:       e.GuildID,
		TextChannelID: e.ChannelID,
		UserID:        e.SenderID(),
		Exclusive:     c.exclusive,
	})
	if err != nil {
		c.logger.Info("Recording not started",
			zap.String("guild_id", e.GuildID.String()),
			zap.String("user_id", e.SenderID().String()),
			zap.Error(err))

		return editResponse(s, e, "❌ "+errorMessage(err))
	}

	return editResponse(s, e, fmt.Sprintf("🔴 Recording <#%s>.\nSession: `%s`\nUse `/stop` when you are done.",
		sess.ChannelID, sess.ID))
}

// StopCommand ends the recording and hands it off for processing.
type StopCommand struct {
	recorder Recorder
	logger   *zap.Logger
}

func NewStopCommand(recorder Recorder, logger *zap.Logger) Command {
	return &StopCommand{recorder: recorder, logger: logger}
}

func (c *StopCommand) Name() string                     { return "stop" }
func (c *StopCommand) Description() string              { return "Stop recording and process the session" }
func (c *StopCommand) Options() []discord.CommandOption { return nil }

func (c *StopCommand) Execute(ctx context.Context, s Responder, e *gateway.InteractionCreateEvent, _ *discord.CommandInteraction) error {
	if !e.GuildID.IsValid() {
		return respondError(s, e, "Recording only works in servers.")
	}

	if err := deferResponse(s, e); err != nil {
		return err
	}

	artifact, err := c.recorder.Stop(ctx, e.GuildID)
	if err != nil {
		if !errors.Is(err, voice.ErrSessionNotFound) && !errors.Is(err, voice.ErrNothingRecorded) {
			c.logger.Warn("Stop failed", zap.String("guild_id", e.GuildID.String()), zap.Error(err))
		}

		return editResponse(s, e, "⏹️ "+errorMessage(err))
	}

	return editResponse(s, e, fmt.Sprintf("⏹️ Recording stopped after %s.\nSession `%s` is being processed, I'll post here when it's ready.",
		voice.FormatElapsed(artifact.Duration), artifact.SessionID))
}

// StatusCommand reports the recording running in the server.
type StatusCommand struct {
	recorder Recorder
	now      func() time.Time
}

func NewStatusCommand(recorder Recorder) Command {
	return &StatusCommand{recorder: recorder, now: time.Now}
}

func (c *StatusCommand) Name() string                     { return "status" }
func (c *StatusCommand) Description() string              { return "Show the current recording" }
func (c *StatusCommand) Options() []discord.CommandOption { return nil }

func (c *StatusCommand) Execute(_ context.Context, s Responder, e *gateway.InteractionCreateEvent, _ *discord.CommandInteraction) error {
	if !e.GuildID.IsValid() {
		return respondError(s, e, "Recording only works in servers.")
	}

	st, err := c.recorder.Status(e.GuildID)
	if err != nil {
		return respondError(s, e, errorMessage(err))
	}

	snap := st.Session
	var b strings.Builder
	fmt.Fprintf(&b, "🎙️ Recording <#%s>\n", snap.ChannelID)
	fmt.Fprintf(&b, "Session: `%s`\n", snap.ID)
	fmt.Fprintf(&b, "State: %s\n", snap.State)
	fmt.Fprintf(&b, "Elapsed: %s\n", voice.FormatElapsed(c.now().Sub(snap.StartTime)))
	fmt.Fprintf(&b, "Speaking now: %d\n", st.ActiveCaptures)

	if names := snap.ParticipantNames(); len(names) > 0 {
		fmt.Fprintf(&b, "Participants: %s", strings.Join(names, ", "))
	} else {
		b.WriteString("Participants: nobody has spoken yet")
	}

	return respond(s, e, b.String())
}
