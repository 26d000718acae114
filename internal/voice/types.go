package voice

import (
	"fmt"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
)

// SessionState is the lifecycle position of a recording session. States
// only ever move forward; Failed is reachable from any non-terminal state.
type SessionState int

const (
	SessionStateIdle SessionState = iota
	SessionStateJoining
	SessionStateReady
	SessionStateRecording
	SessionStateStopping
	SessionStateFinalized
	SessionStateFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateIdle:
		return "idle"
	case SessionStateJoining:
		return "joining"
	case SessionStateReady:
		return "ready"
	case SessionStateRecording:
		return "recording"
	case SessionStateStopping:
		return "stopping"
	case SessionStateFinalized:
		return "finalized"
	case SessionStateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	return s == SessionStateFinalized || s == SessionStateFailed
}

// ActivityEntry is one line of a session's activity log.
type ActivityEntry struct {
	At      time.Time
	Elapsed time.Duration
	Text    string
}

// String renders the entry as "HH:MM:SS: text".
func (e ActivityEntry) String() string {
	return FormatElapsed(e.Elapsed) + ": " + e.Text
}

// FormatElapsed renders d as zero padded HH:MM:SS, truncating sub-second
// precision. Negative durations render as 00:00:00.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)

	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// Participant is a user that has spoken at least once in a session.
type Participant struct {
	UserID      discord.UserID
	DisplayName string
	FirstSeen   time.Time
}

// Session is one recording engagement in a guild's voice channel. Identity
// fields are immutable after creation; everything else is guarded by mu and
// mutated only through the SessionRegistry.
type Session struct {
	ID            string
	GuildID       discord.GuildID
	ChannelID     discord.ChannelID
	TextChannelID discord.ChannelID
	InitiatorID   discord.UserID
	StartTime     time.Time

	mu           sync.Mutex
	state        SessionState
	endTime      time.Time
	participants map[discord.UserID]int // index into order
	order        []Participant
	activity     []ActivityEntry
	failure      error
	now          func() time.Time
}

// SessionSnapshot is a consistent copy of a session's mutable fields.
type SessionSnapshot struct {
	ID            string
	GuildID       discord.GuildID
	ChannelID     discord.ChannelID
	TextChannelID discord.ChannelID
	InitiatorID   discord.UserID
	StartTime     time.Time
	EndTime       time.Time
	State         SessionState
	Participants  []Participant
	Activity      []ActivityEntry
	Failure       error
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// HasParticipant reports whether userID has spoken in this session.
func (s *Session) HasParticipant(userID discord.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.participants[userID]

	return ok
}

// Snapshot copies the session under its lock.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionSnapshot{
		ID:            s.ID,
		GuildID:       s.GuildID,
		ChannelID:     s.ChannelID,
		TextChannelID: s.TextChannelID,
		InitiatorID:   s.InitiatorID,
		StartTime:     s.StartTime,
		EndTime:       s.endTime,
		State:         s.state,
		Participants:  append([]Participant(nil), s.order...),
		Activity:      append([]ActivityEntry(nil), s.activity...),
		Failure:       s.failure,
	}
}

// ActivityLines renders the activity log in order.
func (s SessionSnapshot) ActivityLines() []string {
	lines := make([]string, len(s.Activity))
	for i, e := range s.Activity {
		lines[i] = e.String()
	}

	return lines
}

// ParticipantNames lists participants' display names in first-seen order.
func (s SessionSnapshot) ParticipantNames() []string {
	names := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		names[i] = p.DisplayName
	}

	return names
}

// appendActivityLocked stamps and appends an entry. Timestamps never go
// backwards even if the clock does.
func (s *Session) appendActivityLocked(text string) ActivityEntry {
	at := s.now()
	if n := len(s.activity); n > 0 && at.Before(s.activity[n-1].At) {
		at = s.activity[n-1].At
	}
	entry := ActivityEntry{At: at, Elapsed: at.Sub(s.StartTime), Text: text}
	s.activity = append(s.activity, entry)

	return entry
}

// AudioPacket is one compressed frame received from the voice transport.
type AudioPacket struct {
	SSRC         uint32
	Opus         []byte
	RTPTimestamp uint32
	Sequence     uint16
}

// SpeakingEvent binds a transport SSRC to a user. Speaking is false when the
// user signalled they stopped transmitting.
type SpeakingEvent struct {
	UserID   discord.UserID
	SSRC     uint32
	Speaking bool
}
