package handoff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
	"github.com/Raikerian/go-discord-recorder/internal/observe"
	"github.com/Raikerian/go-discord-recorder/internal/voice"
)

// Pipeline hands finalized recordings to transcription and summarization
// and persists the result. A failed stage halts the run; nothing is retried
// until Retry is called for the session.
type Pipeline struct {
	logger      *zap.Logger
	store       *ResultStore
	transcriber Transcriber
	summarizer  Summarizer
	archive     Archive
	metrics     *observe.Metrics
	now         func() time.Time

	// Where the recorder leaves encoded artifacts.
	recordingsDir string
	extension     string

	mu       sync.Mutex
	progress map[string]Progress
	running  map[string]bool
}

// PipelineParams holds dependencies for NewPipeline.
type PipelineParams struct {
	fx.In
	Logger      *zap.Logger
	Cfg         *config.Config
	Store       *ResultStore
	Transcriber Transcriber
	Summarizer  Summarizer
	Archive     Archive
	Metrics     *observe.Metrics
}

func NewPipeline(params PipelineParams) *Pipeline {
	return &Pipeline{
		logger:        params.Logger.Named("handoff"),
		store:         params.Store,
		transcriber:   params.Transcriber,
		summarizer:    params.Summarizer,
		archive:       params.Archive,
		metrics:       params.Metrics,
		now:           time.Now,
		recordingsDir: params.Cfg.Recording.RecordingsDir,
		extension:     params.Cfg.Recording.Encoder.Format,
		progress:      make(map[string]Progress),
		running:       make(map[string]bool),
	}
}

var _ voice.Handoff = (*Pipeline)(nil)

// Run takes ownership of a finalized session's artifact and processes it.
func (p *Pipeline) Run(ctx context.Context, snap voice.SessionSnapshot, artifact *voice.RecordingArtifact) error {
	job := newJob(snap, artifact)

	if !p.claim(job.SessionID) {
		return ErrInProgress
	}
	defer p.release(job.SessionID)

	p.setStage(job.SessionID, StageArtifactReady)

	if err := p.store.SaveJob(job); err != nil {
		return p.fail(job.SessionID, StageArtifactReady, err)
	}

	return p.execute(ctx, job)
}

// Retry resumes a session whose handoff failed. It continues from the
// saved transcript when transcription had already succeeded, and from the
// encoded recording alone when no checkpoint was written.
func (p *Pipeline) Retry(ctx context.Context, sessionID string) error {
	if p.store.Exists(sessionID) {
		return ErrResultExists
	}

	if !p.claim(sessionID) {
		return ErrInProgress
	}
	defer p.release(sessionID)

	job, err := p.store.LoadJob(sessionID)
	if errors.Is(err, ErrArtifactNotFound) && validID(sessionID) {
		job, err = p.recoverJob(sessionID)
	}
	if err != nil {
		return err
	}
	if job.Transcript == "" {
		if _, err := os.Stat(job.ArtifactPath); err != nil {
			return ErrArtifactNotFound
		}
	}

	p.logger.Info("Retrying handoff",
		zap.String("session_id", sessionID),
		zap.Bool("has_transcript", job.Transcript != ""))

	return p.execute(ctx, job)
}

// recoverJob rebuilds a job from <recordings_dir>/<id>.<ext>. Participants
// and activity only live in the checkpoint, so they stay empty.
func (p *Pipeline) recoverJob(sessionID string) (*Job, error) {
	path := filepath.Join(p.recordingsDir, sessionID+"."+p.extension)
	info, err := os.Stat(path)
	if err != nil {
		return nil, ErrArtifactNotFound
	}

	p.logger.Warn("No checkpoint for session, retrying from the recording",
		zap.String("session_id", sessionID),
		zap.String("artifact", path))

	return &Job{
		SessionID:    sessionID,
		StartedAt:    info.ModTime(),
		EndedAt:      info.ModTime(),
		ArtifactPath: path,
	}, nil
}

// Progress reports where a session's handoff currently is.
func (p *Pipeline) Progress(sessionID string) (Progress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.progress[sessionID]

	return pr, ok
}

// Result returns the persisted result of a session.
func (p *Pipeline) Result(sessionID string) (*Result, error) {
	return p.store.Load(sessionID)
}

func (p *Pipeline) execute(ctx context.Context, job *Job) error {
	logger := p.logger.With(zap.String("session_id", job.SessionID))

	if job.Transcript == "" {
		p.setStage(job.SessionID, StageTranscribing)

		started := p.now()
		transcript, err := p.transcriber.Transcribe(ctx, job.ArtifactPath)
		p.observe(StageTranscribing, started)
		if err != nil {
			return p.fail(job.SessionID, StageTranscribing, err)
		}

		job.Transcript = transcript
		if err := p.store.SaveJob(job); err != nil {
			return p.fail(job.SessionID, StageTranscribing, err)
		}

		p.releaseArtifact(ctx, job)
	}

	p.setStage(job.SessionID, StageSummarizing)

	started := p.now()
	summary, err := p.summarizer.Summarize(ctx, SummaryRequest{
		Transcript:   job.Transcript,
		Participants: job.Participants,
	})
	p.observe(StageSummarizing, started)
	if err != nil {
		return p.fail(job.SessionID, StageSummarizing, err)
	}

	if err := p.store.Save(job.result(summary)); err != nil {
		return p.fail(job.SessionID, StageSummarizing, err)
	}
	p.store.RemoveJob(job.SessionID)

	p.setStage(job.SessionID, StagePersisted)
	logger.Info("Session processed",
		zap.Int("transcript_chars", len(job.Transcript)),
		zap.Int("user_summaries", len(summary.UsersSummary)))

	return nil
}

// releaseArtifact archives the recording if configured and deletes the
// local copy. A failed upload keeps the local file.
func (p *Pipeline) releaseArtifact(ctx context.Context, job *Job) {
	logger := p.logger.With(zap.String("session_id", job.SessionID), zap.String("path", job.ArtifactPath))

	if p.archive.Enabled() {
		key, err := p.archive.Store(ctx, job.SessionID, job.ArtifactPath)
		if err != nil {
			logger.Warn("Failed to archive recording, keeping local copy", zap.Error(err))

			return
		}
		logger.Info("Recording archived", zap.String("key", key))
	}

	if err := os.Remove(job.ArtifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove recording", zap.Error(err))

		return
	}
	logger.Debug("Recording removed")
}

func (p *Pipeline) claim(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running[sessionID] {
		return false
	}
	p.running[sessionID] = true

	return true
}

func (p *Pipeline) release(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.running, sessionID)
}

func (p *Pipeline) setStage(sessionID string, stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.progress[sessionID] = Progress{Stage: stage, UpdatedAt: p.now()}
}

func (p *Pipeline) fail(sessionID string, stage Stage, err error) error {
	p.mu.Lock()
	p.progress[sessionID] = Progress{Stage: StageFailed, FailedAt: stage, Err: err, UpdatedAt: p.now()}
	p.mu.Unlock()

	p.metrics.HandoffFailures.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("stage", stage.String())))

	p.logger.Error("Handoff halted",
		zap.String("session_id", sessionID),
		zap.Stringer("stage", stage),
		zap.Error(err))

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return err
	}

	return fmt.Errorf("%s: %w", stage, err)
}

func (p *Pipeline) observe(stage Stage, started time.Time) {
	p.metrics.HandoffStageDuration.Record(context.Background(), p.now().Sub(started).Seconds(),
		metric.WithAttributes(attribute.String("stage", stage.String())))
}
