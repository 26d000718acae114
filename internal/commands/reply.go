package commands

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/utils/json/option"

	"github.com/Raikerian/go-discord-recorder/internal/handoff"
	"github.com/Raikerian/go-discord-recorder/internal/voice"
)

// maxMessageLength is Discord's content limit for a single message.
const maxMessageLength = 2000

func respond(s Responder, e *gateway.InteractionCreateEvent, content string) error {
	return s.RespondInteraction(e.ID, e.Token, api.InteractionResponse{
		Type: api.MessageInteractionWithSource,
		Data: &api.InteractionResponseData{
			Content: option.NewNullableString(truncateMessage(content)),
		},
	})
}

func respondError(s Responder, e *gateway.InteractionCreateEvent, message string) error {
	return s.RespondInteraction(e.ID, e.Token, api.InteractionResponse{
		Type: api.MessageInteractionWithSource,
		Data: &api.InteractionResponseData{
			Content: option.NewNullableString(truncateMessage("❌ " + message)),
			Flags:   discord.EphemeralMessage,
		},
	})
}

// deferResponse acknowledges the interaction so a slow operation can answer
// later through editResponse.
func deferResponse(s Responder, e *gateway.InteractionCreateEvent) error {
	return s.RespondInteraction(e.ID, e.Token, api.InteractionResponse{
		Type: api.DeferredMessageInteractionWithSource,
	})
}

func editResponse(s Responder, e *gateway.InteractionCreateEvent, content string) error {
	_, err := s.EditInteractionResponse(e.AppID, e.Token, api.EditInteractionResponseData{
		Content: option.NewNullableString(truncateMessage(content)),
	})

	return err
}

func truncateMessage(s string) string {
	if len(s) <= maxMessageLength {
		return s
	}

	const suffix = "\n..."
	cut := maxMessageLength - len(suffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + suffix
}

// errorMessage turns an engine or handoff error into the one line shown to
// the user.
func errorMessage(err error) string {
	var upstream *handoff.UpstreamError

	switch {
	case errors.Is(err, voice.ErrNotInVoiceChannel):
		return "Join a voice channel first."
	case errors.Is(err, voice.ErrPermissionDenied):
		return "I don't have permission to join that voice channel."
	case errors.Is(err, voice.ErrConnectionTimeout):
		return "Timed out connecting to the voice channel. Please try again."
	case errors.Is(err, voice.ErrSessionAlreadyActive):
		return "A recording is already running in this server. Use `/stop` first."
	case errors.Is(err, voice.ErrSessionNotFound):
		return "Nothing is being recorded in this server."
	case errors.Is(err, voice.ErrSessionStopping):
		return "The recording is already stopping."
	case errors.Is(err, voice.ErrMaxSessionsReached):
		return "Too many recordings are running right now. Please try again later."
	case errors.Is(err, voice.ErrNothingRecorded):
		return "Recording stopped. No audio was captured, so there is nothing to process."
	case errors.Is(err, voice.ErrEncodeFailed):
		return "Recording stopped, but the audio could not be encoded."
	case errors.Is(err, handoff.ErrResultNotFound):
		return "No results for that session. It may still be processing."
	case errors.Is(err, handoff.ErrArtifactNotFound):
		return "There is nothing left to process for that session."
	case errors.Is(err, handoff.ErrResultExists):
		return "That session has already been processed."
	case errors.Is(err, handoff.ErrInProgress):
		return "That session is being processed right now."
	case errors.As(err, &upstream):
		if upstream.StatusCode != 0 {
			return fmt.Sprintf("The %s service failed (HTTP %d).", serviceName(upstream.Stage), upstream.StatusCode)
		}

		return fmt.Sprintf("The %s service did not answer.", serviceName(upstream.Stage))
	default:
		return "Something went wrong. Please try again."
	}
}

func serviceName(stage handoff.Stage) string {
	if stage == handoff.StageSummarizing {
		return "summarization"
	}

	return "transcription"
}

// stringOption returns the value of a string option, or "" when absent.
func stringOption(data *discord.CommandInteraction, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name {
			return opt.String()
		}
	}

	return ""
}
