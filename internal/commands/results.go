package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/handoff"
)

// Results gives the commands access to processed sessions.
type Results interface {
	Result(sessionID string) (*handoff.Result, error)
	Retry(ctx context.Context, sessionID string) error
	Progress(sessionID string) (handoff.Progress, bool)
}

func sessionIDOption() discord.CommandOption {
	return &discord.StringOption{
		OptionName:  "session_id",
		Description: "Session id posted when the recording stopped",
		Required:    true,
	}
}

// SummaryCommand shows the summary of a processed session, or one
// participant's part of it.
type SummaryCommand struct {
	results Results
}

func NewSummaryCommand(results Results) Command {
	return &SummaryCommand{results: results}
}

func (c *SummaryCommand) Name() string        { return "summary" }
func (c *SummaryCommand) Description() string { return "Show the summary of a recorded session" }

func (c *SummaryCommand) Options() []discord.CommandOption {
	return []discord.CommandOption{
		sessionIDOption(),
		&discord.StringOption{
			OptionName:  "user",
			Description: "Only show what this participant said",
		},
	}
}

func (c *SummaryCommand) Execute(_ context.Context, s Responder, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error {
	sessionID := strings.TrimSpace(stringOption(data, "session_id"))
	user := strings.TrimSpace(stringOption(data, "user"))

	result, err := c.results.Result(sessionID)
	if err != nil {
		return respondError(s, e, errorMessage(err))
	}

	if user != "" {
		text, ok := result.UserSummary(user)
		if !ok {
			return respondError(s, e, fmt.Sprintf("%s did not take part in session `%s`.", user, sessionID))
		}

		return respond(s, e, fmt.Sprintf("**Summary for %s** (session `%s`)\n%s", user, sessionID, text))
	}

	if result.Summary == "" {
		return respond(s, e, fmt.Sprintf("Session `%s` has no summary.", sessionID))
	}

	return respond(s, e, fmt.Sprintf("**Summary** (session `%s`)\n%s", sessionID, result.Summary))
}

// TranscriptCommand shows the transcript of a processed session.
type TranscriptCommand struct {
	results Results
}

func NewTranscriptCommand(results Results) Command {
	return &TranscriptCommand{results: results}
}

func (c *TranscriptCommand) Name() string                     { return "transcript" }
func (c *TranscriptCommand) Description() string              { return "Show the transcript of a recorded session" }
func (c *TranscriptCommand) Options() []discord.CommandOption { return []discord.CommandOption{sessionIDOption()} }

func (c *TranscriptCommand) Execute(_ context.Context, s Responder, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error {
	sessionID := strings.TrimSpace(stringOption(data, "session_id"))

	result, err := c.results.Result(sessionID)
	if err != nil {
		return respondError(s, e, errorMessage(err))
	}

	if strings.TrimSpace(result.Transcript) == "" {
		return respond(s, e, fmt.Sprintf("The transcript of session `%s` is empty.", sessionID))
	}

	return respond(s, e, fmt.Sprintf("**Transcript** (session `%s`)\n%s", sessionID, result.Transcript))
}

// RetryCommand re-runs the handoff of a session that failed to process.
type RetryCommand struct {
	results Results
	logger  *zap.Logger
}

func NewRetryCommand(results Results, logger *zap.Logger) Command {
	return &RetryCommand{results: results, logger: logger}
}

func (c *RetryCommand) Name() string                     { return "retry" }
func (c *RetryCommand) Description() string              { return "Process a session again after a failure" }
func (c *RetryCommand) Options() []discord.CommandOption { return []discord.CommandOption{sessionIDOption()} }

func (c *RetryCommand) Execute(ctx context.Context, s Responder, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error {
	sessionID := strings.TrimSpace(stringOption(data, "session_id"))

	if err := deferResponse(s, e); err != nil {
		return err
	}

	if err := c.results.Retry(ctx, sessionID); err != nil {
		c.logger.Info("Retry failed", zap.String("session_id", sessionID), zap.Error(err))

		msg := "❌ " + errorMessage(err)
		if p, ok := c.results.Progress(sessionID); ok && p.Stage == handoff.StageFailed {
			msg += fmt.Sprintf("\nProcessing stopped while %s.", p.FailedAt)
		}

		return editResponse(s, e, msg)
	}

	return editResponse(s, e, fmt.Sprintf("✅ Session `%s` processed. Use `/summary %s` or `/transcript %s`.",
		sessionID, sessionID, sessionID))
}
