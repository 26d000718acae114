package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
	"github.com/Raikerian/go-discord-recorder/internal/observe"
)

// SessionRegistry owns every active Session, at most one per guild. All
// session mutation goes through it so the audio path and the command path
// never see diverging state.
type SessionRegistry interface {
	// Create registers a new session in the Joining state. When a session
	// already exists for the guild, a non-exclusive request for the same
	// channel returns it with created=false; anything else fails with
	// ErrSessionAlreadyActive.
	Create(req CreateRequest) (sess *Session, created bool, err error)

	Get(guildID discord.GuildID) (*Session, bool)

	// Remove drops sess from the registry. A newer session registered for
	// the same guild is left untouched.
	Remove(sess *Session) bool

	Active() []*Session

	// Transition moves sess forward to the given state.
	Transition(sess *Session, to SessionState) error

	// BeginStop moves a live session to Stopping. Exactly one caller ever
	// gets true for a given session; it owns the teardown.
	BeginStop(sess *Session) bool

	// Fail moves a non-terminal session to Failed, recording the cause.
	Fail(sess *Session, cause error) bool

	// ObserveSpeaker adds userID to the participants the first time it is
	// seen and logs the join. It reports whether the user was new.
	ObserveSpeaker(sess *Session, userID discord.UserID, displayName string) bool

	AppendActivity(sess *Session, text string) ActivityEntry
}

// CreateRequest describes the session a caller wants.
type CreateRequest struct {
	GuildID       discord.GuildID
	ChannelID     discord.ChannelID
	TextChannelID discord.ChannelID
	InitiatorID   discord.UserID

	// Exclusive rejects any existing session instead of reusing it.
	Exclusive bool
}

type sessionRegistry struct {
	logger      *zap.Logger
	metrics     *observe.Metrics
	maxSessions int
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[discord.GuildID]*Session
}

// RegistryParams holds dependencies for NewSessionRegistry.
type RegistryParams struct {
	fx.In
	Logger  *zap.Logger
	Cfg     *config.Config
	Metrics *observe.Metrics
}

func NewSessionRegistry(params RegistryParams) SessionRegistry {
	return &sessionRegistry{
		logger:      params.Logger,
		metrics:     params.Metrics,
		maxSessions: params.Cfg.Recording.MaxConcurrentSessions,
		now:         time.Now,
		sessions:    make(map[discord.GuildID]*Session),
	}
}

func (r *sessionRegistry) Create(req CreateRequest) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[req.GuildID]; ok {
		if !req.Exclusive && existing.ChannelID == req.ChannelID && reusable(existing.State()) {
			return existing, false, nil
		}

		return existing, false, ErrSessionAlreadyActive
	}

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, false, ErrMaxSessionsReached
	}

	now := r.now()
	sess := &Session{
		ID:            uuid.NewString(),
		GuildID:       req.GuildID,
		ChannelID:     req.ChannelID,
		TextChannelID: req.TextChannelID,
		InitiatorID:   req.InitiatorID,
		StartTime:     now,
		state:         SessionStateJoining,
		participants:  make(map[discord.UserID]int),
		now:           r.now,
	}
	r.sessions[req.GuildID] = sess
	r.metrics.ActiveSessions.Add(context.Background(), 1)

	r.logger.Info("Recording session created",
		zap.String("session_id", sess.ID),
		zap.String("guild_id", req.GuildID.String()),
		zap.String("channel_id", req.ChannelID.String()),
		zap.String("initiator_id", req.InitiatorID.String()))

	return sess, true, nil
}

func reusable(s SessionState) bool {
	return s == SessionStateJoining || s == SessionStateReady || s == SessionStateRecording
}

func (r *sessionRegistry) Get(guildID discord.GuildID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[guildID]

	return sess, ok
}

func (r *sessionRegistry) Remove(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[sess.GuildID]
	if !ok || current != sess {
		return false
	}
	delete(r.sessions, sess.GuildID)
	r.metrics.ActiveSessions.Add(context.Background(), -1)

	snap := sess.Snapshot()
	r.logger.Info("Recording session removed",
		zap.String("session_id", sess.ID),
		zap.String("guild_id", sess.GuildID.String()),
		zap.Stringer("state", snap.State),
		zap.Int("participants", len(snap.Participants)),
		zap.Duration("duration", snap.EndTime.Sub(snap.StartTime)))

	return true
}

func (r *sessionRegistry) Active() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}

	return out
}

func (r *sessionRegistry) Transition(sess *Session, to SessionState) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	from := sess.state
	if from.Terminal() || to <= from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	sess.state = to
	if to >= SessionStateStopping && sess.endTime.IsZero() {
		sess.endTime = sess.now()
	}

	r.logger.Debug("Session state changed",
		zap.String("session_id", sess.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", to))

	return nil
}

func (r *sessionRegistry) BeginStop(sess *Session) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !reusable(sess.state) {
		return false
	}
	sess.state = SessionStateStopping
	sess.endTime = sess.now()

	return true
}

func (r *sessionRegistry) Fail(sess *Session, cause error) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state.Terminal() {
		return false
	}
	from := sess.state
	sess.state = SessionStateFailed
	sess.failure = cause
	if sess.endTime.IsZero() {
		sess.endTime = sess.now()
	}

	r.logger.Warn("Session failed",
		zap.String("session_id", sess.ID),
		zap.Stringer("from", from),
		zap.Error(cause))

	return true
}

func (r *sessionRegistry) ObserveSpeaker(sess *Session, userID discord.UserID, displayName string) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if _, seen := sess.participants[userID]; seen {
		return false
	}

	entry := sess.appendActivityLocked(fmt.Sprintf("@%s joined the session.", displayName))
	sess.participants[userID] = len(sess.order)
	sess.order = append(sess.order, Participant{
		UserID:      userID,
		DisplayName: displayName,
		FirstSeen:   entry.At,
	})

	r.logger.Info("New participant",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID.String()),
		zap.String("activity", entry.String()))

	return true
}

func (r *sessionRegistry) AppendActivity(sess *Session, text string) ActivityEntry {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	return sess.appendActivityLocked(text)
}
