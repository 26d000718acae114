package handoff

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Raikerian/go-discord-recorder/internal/voice"
)

// Result is the persisted outcome of a session. It is written once and
// never changed afterwards.
type Result struct {
	SessionID    string            `json:"session_id"`
	GuildID      string            `json:"guild_id"`
	ChannelID    string            `json:"channel_id"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      time.Time         `json:"ended_at"`
	Participants []string          `json:"participants"`
	Activity     []string          `json:"activity"`
	Transcript   string            `json:"transcript"`
	Summary      string            `json:"summary"`
	UsersSummary map[string]string `json:"users_summary"`
	Raw          json.RawMessage   `json:"raw,omitempty"`
}

// Job is the checkpoint of a handoff in flight. It survives restarts so a
// failed run can be retried by session id.
type Job struct {
	SessionID    string    `json:"session_id"`
	GuildID      string    `json:"guild_id"`
	ChannelID    string    `json:"channel_id"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Participants []string  `json:"participants"`
	Activity     []string  `json:"activity"`
	ArtifactPath string    `json:"artifact_path"`

	// Transcript is set once transcription succeeded.
	Transcript string `json:"transcript,omitempty"`
}

func newJob(snap voice.SessionSnapshot, artifact *voice.RecordingArtifact) *Job {
	return &Job{
		SessionID:    snap.ID,
		GuildID:      snap.GuildID.String(),
		ChannelID:    snap.ChannelID.String(),
		StartedAt:    snap.StartTime,
		EndedAt:      snap.EndTime,
		Participants: snap.ParticipantNames(),
		Activity:     snap.ActivityLines(),
		ArtifactPath: artifact.Path,
	}
}

func (j *Job) result(s *Summary) *Result {
	users := s.UsersSummary
	if users == nil {
		users = map[string]string{}
	}
	participants := j.Participants
	if participants == nil {
		participants = []string{}
	}
	activity := j.Activity
	if activity == nil {
		activity = []string{}
	}

	return &Result{
		SessionID:    j.SessionID,
		GuildID:      j.GuildID,
		ChannelID:    j.ChannelID,
		StartedAt:    j.StartedAt,
		EndedAt:      j.EndedAt,
		Participants: participants,
		Activity:     activity,
		Transcript:   j.Transcript,
		Summary:      s.Summary,
		UsersSummary: users,
		Raw:          s.Raw,
	}
}

// UserSummary looks up a participant's summary, ignoring case and a
// leading @.
func (r *Result) UserSummary(name string) (string, bool) {
	if s, ok := r.UsersSummary[name]; ok {
		return s, true
	}

	want := normalizeName(name)
	for user, s := range r.UsersSummary {
		if normalizeName(user) == want {
			return s, true
		}
	}

	return "", false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}
