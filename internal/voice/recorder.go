package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Raikerian/go-discord-recorder/internal/observe"
)

// Handoff takes ownership of a finalized session's artifact.
type Handoff interface {
	Run(ctx context.Context, snap SessionSnapshot, artifact *RecordingArtifact) error
}

// Notifier posts a message to the text channel a session was started from.
type Notifier interface {
	Notify(ctx context.Context, channelID discord.ChannelID, content string) error
}

// StartRequest is a user's request to record the voice channel they are in.
type StartRequest struct {
	GuildID       discord.GuildID
	TextChannelID discord.ChannelID
	UserID        discord.UserID

	// Exclusive fails when any session already exists in the guild.
	Exclusive bool
}

// Status is a point-in-time view of a running session.
type Status struct {
	Session        SessionSnapshot
	ActiveCaptures int
	BytesWritten   int64
}

// Recorder wires the engine together: it starts sessions, tears them down
// exactly once and hands their artifacts off.
type Recorder struct {
	logger      *zap.Logger
	registry    SessionRegistry
	connections ConnectionController
	presence    Presence
	speakers    SpeakerStreamManager
	newMuxer    MuxerFactory
	handoff     Handoff
	notifier    Notifier
	metrics     *observe.Metrics

	mu         sync.Mutex
	recordings map[string]*recording
	stopping   map[string]*recording

	handoffs       sync.WaitGroup
	handoffCtx     context.Context
	cancelHandoffs context.CancelFunc
}

// recording is the runtime state of a session whose link and muxer are open.
type recording struct {
	sess     *Session
	handle   *ConnectionHandle
	muxer    SessionMuxer
	stopped  chan struct{}
	finished chan struct{}
}

// RecorderParams holds dependencies for NewRecorder.
type RecorderParams struct {
	fx.In
	Logger      *zap.Logger
	Registry    SessionRegistry
	Connections ConnectionController
	Presence    Presence
	Speakers    SpeakerStreamManager
	NewMuxer    MuxerFactory
	Handoff     Handoff
	Notifier    Notifier
	Metrics     *observe.Metrics
}

func NewRecorder(params RecorderParams) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())

	return &Recorder{
		logger:         params.Logger,
		registry:       params.Registry,
		connections:    params.Connections,
		presence:       params.Presence,
		speakers:       params.Speakers,
		newMuxer:       params.NewMuxer,
		handoff:        params.Handoff,
		notifier:       params.Notifier,
		metrics:        params.Metrics,
		recordings:     make(map[string]*recording),
		stopping:       make(map[string]*recording),
		handoffCtx:     ctx,
		cancelHandoffs: cancel,
	}
}

// Start joins the requesting user's voice channel and begins recording. A
// non-exclusive request for a channel that is already being recorded
// returns the running session.
func (r *Recorder) Start(ctx context.Context, req StartRequest) (*Session, error) {
	channelID, err := r.connections.Locate(req.GuildID, req.UserID)
	if err != nil {
		return nil, err
	}

	sess, created, err := r.registry.Create(CreateRequest{
		GuildID:       req.GuildID,
		ChannelID:     channelID,
		TextChannelID: req.TextChannelID,
		InitiatorID:   req.UserID,
		Exclusive:     req.Exclusive,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return sess, nil
	}

	logger := r.logger.With(
		zap.String("session_id", sess.ID),
		zap.String("guild_id", sess.GuildID.String()),
		zap.String("channel_id", sess.ChannelID.String()))

	handle, err := r.connections.Join(ctx, sess.GuildID, sess.ChannelID)
	if err != nil {
		r.abort(sess, err)

		return nil, err
	}

	muxer, err := r.newMuxer(sess.ID)
	if err != nil {
		r.leave(ctx, sess)
		r.abort(sess, err)

		return nil, fmt.Errorf("open recording: %w", err)
	}

	rec := &recording{
		sess:     sess,
		handle:   handle,
		muxer:    muxer,
		stopped:  make(chan struct{}),
		finished: make(chan struct{}),
	}

	if !r.adopt(rec) {
		return nil, r.abandon(ctx, rec)
	}

	// From here on a concurrent stop finds rec and owns the teardown.
	if err := r.registry.Transition(sess, SessionStateReady); err != nil {
		return nil, ErrSessionStopping
	}

	r.registry.AppendActivity(sess, "recording started")

	if err := r.speakers.Attach(handle, sess, muxer); err != nil {
		if claimed, ok := r.claim(sess); ok && claimed != nil {
			defer r.finish(claimed)
			close(claimed.stopped)
			r.leave(ctx, sess)
			_, _ = muxer.Finalize(ctx)
			r.abort(sess, err)
		}

		return nil, fmt.Errorf("attach speakers: %w", err)
	}

	if err := r.registry.Transition(sess, SessionStateRecording); err != nil {
		// The teardown may have detached before Attach returned.
		r.speakers.Detach(sess)

		return nil, ErrSessionStopping
	}

	go r.watch(rec)

	logger.Info("Recording started")

	return sess, nil
}

// abort fails a session that never reached Recording and drops it.
func (r *Recorder) abort(sess *Session, cause error) {
	r.registry.Fail(sess, cause)
	r.registry.Remove(sess)
}

// abandon cleans up after a stop that won the session before rec was
// registered. The stopper found nothing to tear down, so Start does it.
func (r *Recorder) abandon(ctx context.Context, rec *recording) error {
	sess := rec.sess
	r.leave(ctx, sess)
	if _, err := rec.muxer.Finalize(ctx); err != nil && !errors.Is(err, ErrNothingRecorded) {
		r.logger.Warn("Failed to discard abandoned recording", zap.String("session_id", sess.ID), zap.Error(err))
	}
	if err := r.registry.Transition(sess, SessionStateFinalized); err != nil {
		r.logger.Debug("Abandoned session already terminal", zap.String("session_id", sess.ID), zap.Error(err))
	}
	r.registry.Remove(sess)

	return ErrSessionStopping
}

func (r *Recorder) leave(ctx context.Context, sess *Session) {
	if err := r.connections.Leave(ctx, sess.GuildID); err != nil {
		r.logger.Warn("Failed to leave voice channel",
			zap.String("session_id", sess.ID),
			zap.String("guild_id", sess.GuildID.String()),
			zap.Error(err))
	}
}

// adopt registers rec unless a stop already claimed its session. It shares
// r.mu with claim, so exactly one of Start and the stopper cleans up.
func (r *Recorder) adopt(rec *recording) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.sess.State() != SessionStateJoining {
		return false
	}
	r.recordings[rec.sess.ID] = rec

	return true
}

// claim wins the right to tear sess down. The stop transition and the move
// into the stopping set happen under one lock so awaitTeardown never misses
// a teardown in progress.
func (r *Recorder) claim(sess *Session) (*recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registry.BeginStop(sess) {
		return nil, false
	}

	rec, ok := r.recordings[sess.ID]
	if !ok {
		return nil, true
	}
	delete(r.recordings, sess.ID)
	r.stopping[sess.ID] = rec

	return rec, true
}

func (r *Recorder) finish(rec *recording) {
	r.mu.Lock()
	delete(r.stopping, rec.sess.ID)
	r.mu.Unlock()

	close(rec.finished)
}

// awaitTeardown blocks until a teardown owned by another caller is done.
func (r *Recorder) awaitTeardown(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	rec, ok := r.stopping[sessionID]
	r.mu.Unlock()

	if !ok {
		return nil
	}

	select {
	case <-rec.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch tears the session down when the voice link goes away on its own.
func (r *Recorder) watch(rec *recording) {
	select {
	case <-rec.stopped:
	case <-rec.handle.Done():
		r.logger.Info("Voice link closed, stopping recording",
			zap.String("session_id", rec.sess.ID),
			zap.String("guild_id", rec.sess.GuildID.String()))

		if _, err := r.teardown(context.Background(), rec.sess, "disconnected"); err != nil &&
			!errors.Is(err, ErrSessionStopping) {
			r.logger.Debug("Teardown after disconnect", zap.String("session_id", rec.sess.ID), zap.Error(err))
		}
	}
}

// Stop ends the guild's recording and returns the encoded artifact. The
// handoff continues in the background.
func (r *Recorder) Stop(ctx context.Context, guildID discord.GuildID) (*RecordingArtifact, error) {
	sess, ok := r.registry.Get(guildID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	return r.teardown(ctx, sess, "stop")
}

// HandleVoiceStateUpdate reacts to the bot's own voice state. Leaving the
// channel from the outside stops the recording. A leave is only trusted
// when the state cache agrees the bot is no longer in the session's
// channel, so the late echo of an earlier leave cannot end a newer session.
func (r *Recorder) HandleVoiceStateUpdate(guildID discord.GuildID, selfID discord.UserID, channelID discord.ChannelID) {
	if channelID.IsValid() {
		return
	}

	sess, ok := r.registry.Get(guildID)
	if !ok || sess.State() != SessionStateRecording {
		return
	}

	if current, err := r.presence.VoiceChannel(guildID, selfID); err == nil && current == sess.ChannelID {
		r.logger.Debug("Ignoring stale voice state update",
			zap.String("session_id", sess.ID),
			zap.String("channel_id", current.String()))

		return
	}

	go func() {
		if _, err := r.teardown(context.Background(), sess, "disconnected"); err != nil &&
			!errors.Is(err, ErrSessionStopping) {
			r.logger.Debug("Teardown after voice state update", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}()
}

// teardown runs at most once per session no matter how many stop signals
// race. Losers get ErrSessionStopping.
func (r *Recorder) teardown(ctx context.Context, sess *Session, reason string) (*RecordingArtifact, error) {
	rec, ok := r.claim(sess)
	if !ok {
		return nil, ErrSessionStopping
	}

	logger := r.logger.With(
		zap.String("session_id", sess.ID),
		zap.String("guild_id", sess.GuildID.String()),
		zap.String("reason", reason))
	logger.Info("Stopping recording")

	if rec == nil {
		// Start has not registered the recording yet and cleans up itself.
		return nil, ErrNothingRecorded
	}
	defer r.finish(rec)
	close(rec.stopped)

	r.registry.AppendActivity(sess, "recording stopped")
	r.speakers.Detach(sess)
	r.leave(ctx, sess)

	started := time.Now()
	artifact, err := rec.muxer.Finalize(ctx)
	r.metrics.EncodeDuration.Record(ctx, time.Since(started).Seconds())

	switch {
	case errors.Is(err, ErrNothingRecorded):
		_ = r.registry.Transition(sess, SessionStateFinalized)
		r.registry.Remove(sess)
		r.notify(sess, "Recording `"+sess.ID+"` stopped. No audio was captured.")

		return nil, err
	case err != nil:
		r.registry.Fail(sess, err)
		r.registry.Remove(sess)
		r.notify(sess, fmt.Sprintf("Recording `%s` could not be encoded: %v", sess.ID, err))

		return nil, err
	}

	snap := sess.Snapshot()

	r.handoffs.Add(1)
	go r.runHandoff(snap, artifact)

	if err := r.registry.Transition(sess, SessionStateFinalized); err != nil {
		logger.Warn("Failed to finalize session", zap.Error(err))
	}
	r.registry.Remove(sess)

	logger.Info("Recording stopped",
		zap.String("artifact", artifact.Path),
		zap.Duration("audio", artifact.Duration),
		zap.Int("participants", len(snap.Participants)))

	return artifact, nil
}

func (r *Recorder) runHandoff(snap SessionSnapshot, artifact *RecordingArtifact) {
	defer r.handoffs.Done()

	if err := r.handoff.Run(r.handoffCtx, snap, artifact); err != nil {
		r.logger.Error("Handoff failed",
			zap.String("session_id", snap.ID),
			zap.Error(err))
		r.notifyChannel(snap.TextChannelID, fmt.Sprintf(
			"Processing of session `%s` failed: %v\nThe recording was kept, use `/retry %s` to try again.",
			snap.ID, err, snap.ID))

		return
	}

	r.notifyChannel(snap.TextChannelID, fmt.Sprintf(
		"Session `%s` is processed. Use `/summary %s` or `/transcript %s` to read it.",
		snap.ID, snap.ID, snap.ID))
}

func (r *Recorder) notify(sess *Session, content string) {
	r.notifyChannel(sess.TextChannelID, content)
}

func (r *Recorder) notifyChannel(channelID discord.ChannelID, content string) {
	if r.notifier == nil || !channelID.IsValid() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.notifier.Notify(ctx, channelID, content); err != nil {
		r.logger.Warn("Failed to send notification",
			zap.String("channel_id", channelID.String()),
			zap.Error(err))
	}
}

// Status reports the guild's running session.
func (r *Recorder) Status(guildID discord.GuildID) (Status, error) {
	sess, ok := r.registry.Get(guildID)
	if !ok {
		return Status{}, ErrSessionNotFound
	}

	st := Status{
		Session:        sess.Snapshot(),
		ActiveCaptures: r.speakers.ActiveCaptures(sess),
	}

	r.mu.Lock()
	if rec, ok := r.recordings[sess.ID]; ok {
		st.BytesWritten = rec.muxer.BytesWritten()
	}
	r.mu.Unlock()

	return st, nil
}

// Shutdown stops every active session concurrently and waits for their
// handoffs. Handoffs still running when ctx ends are cancelled.
func (r *Recorder) Shutdown(ctx context.Context) error {
	active := r.registry.Active()
	if len(active) > 0 {
		r.logger.Info("Stopping active recordings", zap.Int("count", len(active)))
	}

	var g errgroup.Group
	for _, sess := range active {
		g.Go(func() error {
			_, err := r.teardown(ctx, sess, "shutdown")
			if errors.Is(err, ErrSessionStopping) {
				return r.awaitTeardown(ctx, sess.ID)
			}
			if err == nil || errors.Is(err, ErrNothingRecorded) {
				return nil
			}

			return fmt.Errorf("session %s: %w", sess.ID, err)
		})
	}
	stopErr := g.Wait()

	done := make(chan struct{})
	go func() {
		r.handoffs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.cancelHandoffs()
		<-done

		return errors.Join(stopErr, ctx.Err())
	}
	r.cancelHandoffs()

	return stopErr
}
