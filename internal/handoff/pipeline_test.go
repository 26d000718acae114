package handoff_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-discord-recorder/internal/config"
	"github.com/Raikerian/go-discord-recorder/internal/handoff"
	"github.com/Raikerian/go-discord-recorder/internal/observe"
	"github.com/Raikerian/go-discord-recorder/internal/voice"
)

const llmResponse = `{"success": true, "output": {"transcript": "hello team", "summary": "# Summary", ` +
	`"users_summary": {"alice": "alice said hello"}}, "total_time": 1.5}`

// upstream fakes the transcription and summarization services.
type upstream struct {
	transcribeStatus atomic.Int32
	summarizeStatus  atomic.Int32
	transcribeCalls  atomic.Int32
	summarizeCalls   atomic.Int32

	mu       sync.Mutex
	uploaded map[string][]byte
	texts    []string
}

func newUpstream(t *testing.T) (*upstream, *httptest.Server) {
	t.Helper()

	u := &upstream{uploaded: make(map[string][]byte)}
	u.transcribeStatus.Store(http.StatusOK)
	u.summarizeStatus.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe/", func(w http.ResponseWriter, r *http.Request) {
		u.transcribeCalls.Add(1)

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)

			return
		}
		data, _ := io.ReadAll(f)
		u.mu.Lock()
		u.uploaded[hdr.Filename] = data
		u.mu.Unlock()

		if status := int(u.transcribeStatus.Load()); status != http.StatusOK {
			http.Error(w, "model exploded", status)

			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"transcript": "hello team"}`)
	})
	mux.HandleFunc("POST /llm", func(w http.ResponseWriter, r *http.Request) {
		u.summarizeCalls.Add(1)

		var body struct {
			Text string `json:"text"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		u.mu.Lock()
		u.texts = append(u.texts, body.Text)
		u.mu.Unlock()

		if status := int(u.summarizeStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"success": false, "details": "Error Occured : boom"}`)

			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, llmResponse)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return u, srv
}

type fakeArchive struct {
	enabled bool
	err     error
	stored  []string
}

func (a *fakeArchive) Enabled() bool { return a.enabled }

func (a *fakeArchive) Store(_ context.Context, sessionID, _ string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	key := "recordings/" + sessionID + ".mp3"
	a.stored = append(a.stored, key)

	return key, nil
}

type fixture struct {
	pipeline *handoff.Pipeline
	store    *handoff.ResultStore
	upstream *upstream
	archive  *fakeArchive
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	u, srv := newUpstream(t)
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.Recording.RecordingsDir = dir
	cfg.Recording.Encoder.Format = "mp3"
	cfg.Handoff.SessionsDir = filepath.Join(dir, "sessions")
	cfg.Handoff.ResultCacheSize = 8
	cfg.Handoff.Transcription = config.ServiceConfig{Provider: config.ProviderHTTP, URL: srv.URL + "/transcribe/", Timeout: 5 * time.Second}
	cfg.Handoff.Summarization = config.ServiceConfig{Provider: config.ProviderHTTP, URL: srv.URL + "/llm", Timeout: 5 * time.Second}

	store, err := handoff.NewResultStore(handoff.StoreParams{Cfg: cfg, Logger: logger})
	require.NoError(t, err)

	backends := handoff.BackendParams{Cfg: cfg, Logger: logger, HTTPClient: srv.Client()}
	transcriber, err := handoff.NewTranscriber(backends)
	require.NoError(t, err)
	summarizer, err := handoff.NewSummarizer(backends)
	require.NoError(t, err)

	archive := &fakeArchive{}

	return &fixture{
		pipeline: handoff.NewPipeline(handoff.PipelineParams{
			Logger:      logger,
			Cfg:         cfg,
			Store:       store,
			Transcriber: transcriber,
			Summarizer:  summarizer,
			Archive:     archive,
			Metrics:     observe.NewNopMetrics(),
		}),
		store:    store,
		upstream: u,
		archive:  archive,
		dir:      dir,
	}
}

var (
	startedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	endedAt   = startedAt.Add(90 * time.Second)
)

func (f *fixture) session(t *testing.T) (voice.SessionSnapshot, *voice.RecordingArtifact) {
	t.Helper()

	id := uuid.NewString()
	path := filepath.Join(f.dir, id+".mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3 fake mp3"), 0o644))

	snap := voice.SessionSnapshot{
		ID:        id,
		GuildID:   10,
		ChannelID: 20,
		StartTime: startedAt,
		EndTime:   endedAt,
		Participants: []voice.Participant{
			{UserID: 1, DisplayName: "alice"},
		},
		Activity: []voice.ActivityEntry{
			{Elapsed: 0, Text: "recording started"},
			{Elapsed: 5 * time.Second, Text: "@alice joined the session."},
			{Elapsed: 90 * time.Second, Text: "recording stopped"},
		},
	}

	return snap, &voice.RecordingArtifact{SessionID: id, Path: path, Format: "mp3"}
}

func TestPipeline_Run(t *testing.T) {
	f := newFixture(t)
	snap, artifact := f.session(t)

	require.NoError(t, f.pipeline.Run(context.Background(), snap, artifact))

	got, err := f.pipeline.Result(snap.ID)
	require.NoError(t, err)

	want := &handoff.Result{
		SessionID:    snap.ID,
		GuildID:      "10",
		ChannelID:    "20",
		StartedAt:    startedAt,
		EndedAt:      endedAt,
		Participants: []string{"alice"},
		Activity: []string{
			"00:00:00: recording started",
			"00:00:05: @alice joined the session.",
			"00:01:30: recording stopped",
		},
		Transcript:   "hello team",
		Summary:      "# Summary",
		UsersSummary: map[string]string{"alice": "alice said hello"},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(handoff.Result{}, "Raw")); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	assert.JSONEq(t, llmResponse, string(got.Raw))

	assert.Equal(t, []byte("ID3 fake mp3"), f.upstream.uploaded[snap.ID+".mp3"])
	assert.Equal(t, []string{"hello team"}, f.upstream.texts)

	assert.NoFileExists(t, artifact.Path)
	assert.NoFileExists(t, filepath.Join(f.dir, "sessions", snap.ID+".pending.json"))
	assert.FileExists(t, filepath.Join(f.dir, "sessions", snap.ID+".json"))

	progress, ok := f.pipeline.Progress(snap.ID)
	require.True(t, ok)
	assert.Equal(t, handoff.StagePersisted, progress.Stage)

	// A fresh store reads the same document from disk.
	reread, err := handoff.NewResultStore(handoff.StoreParams{Cfg: storeConfig(f), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	fromDisk, err := reread.Load(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice said hello", fromDisk.UsersSummary["alice"])
}

func storeConfig(f *fixture) *config.Config {
	cfg := &config.Config{}
	cfg.Handoff.SessionsDir = filepath.Join(f.dir, "sessions")
	cfg.Handoff.ResultCacheSize = 1

	return cfg
}

func TestPipeline_TranscriptionFailureKeepsArtifact(t *testing.T) {
	f := newFixture(t)
	f.upstream.transcribeStatus.Store(http.StatusInternalServerError)
	snap, artifact := f.session(t)

	err := f.pipeline.Run(context.Background(), snap, artifact)
	require.ErrorIs(t, err, handoff.ErrUpstream)

	var upErr *handoff.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, handoff.StageTranscribing, upErr.Stage)
	assert.Equal(t, http.StatusInternalServerError, upErr.StatusCode)
	assert.Contains(t, upErr.Body, "model exploded")

	assert.FileExists(t, artifact.Path)
	_, err = f.pipeline.Result(snap.ID)
	assert.ErrorIs(t, err, handoff.ErrResultNotFound)
	assert.Zero(t, f.upstream.summarizeCalls.Load())

	progress, ok := f.pipeline.Progress(snap.ID)
	require.True(t, ok)
	assert.Equal(t, handoff.StageFailed, progress.Stage)
	assert.Equal(t, handoff.StageTranscribing, progress.FailedAt)

	f.upstream.transcribeStatus.Store(http.StatusOK)
	require.NoError(t, f.pipeline.Retry(context.Background(), snap.ID))

	result, err := f.pipeline.Result(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Summary", result.Summary)
	assert.NoFileExists(t, artifact.Path)
}

func TestPipeline_SummarizationFailureResumesFromTranscript(t *testing.T) {
	f := newFixture(t)
	f.upstream.summarizeStatus.Store(http.StatusBadGateway)
	snap, artifact := f.session(t)

	err := f.pipeline.Run(context.Background(), snap, artifact)
	require.ErrorIs(t, err, handoff.ErrUpstream)

	// Transcription was accepted, so the recording is released.
	assert.NoFileExists(t, artifact.Path)
	_, err = f.pipeline.Result(snap.ID)
	assert.ErrorIs(t, err, handoff.ErrResultNotFound)

	f.upstream.summarizeStatus.Store(http.StatusOK)
	require.NoError(t, f.pipeline.Retry(context.Background(), snap.ID))

	assert.EqualValues(t, 1, f.upstream.transcribeCalls.Load())
	assert.EqualValues(t, 2, f.upstream.summarizeCalls.Load())

	assert.ErrorIs(t, f.pipeline.Retry(context.Background(), snap.ID), handoff.ErrResultExists)
}

func TestPipeline_UnknownSessions(t *testing.T) {
	f := newFixture(t)

	tests := map[string]string{
		"unknown id":     uuid.NewString(),
		"not an id":      "not-a-session",
		"path traversal": "../../etc/passwd",
		"empty":          "",
	}

	for name, id := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.pipeline.Result(id)
			assert.ErrorIs(t, err, handoff.ErrResultNotFound)

			assert.ErrorIs(t, f.pipeline.Retry(context.Background(), id), handoff.ErrArtifactNotFound)

			_, ok := f.pipeline.Progress(id)
			assert.False(t, ok)
		})
	}
}

func TestPipeline_RetryWithoutRecording(t *testing.T) {
	f := newFixture(t)
	f.upstream.transcribeStatus.Store(http.StatusServiceUnavailable)
	snap, artifact := f.session(t)

	require.Error(t, f.pipeline.Run(context.Background(), snap, artifact))
	require.NoError(t, os.Remove(artifact.Path))

	assert.ErrorIs(t, f.pipeline.Retry(context.Background(), snap.ID), handoff.ErrArtifactNotFound)

	// Without the checkpoint either there is nothing left to resume from.
	require.NoError(t, os.Remove(filepath.Join(f.dir, "sessions", snap.ID+".pending.json")))
	assert.ErrorIs(t, f.pipeline.Retry(context.Background(), snap.ID), handoff.ErrArtifactNotFound)
}

func TestPipeline_RetryFromRecordingWithoutCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.upstream.transcribeStatus.Store(http.StatusServiceUnavailable)
	snap, artifact := f.session(t)

	require.Error(t, f.pipeline.Run(context.Background(), snap, artifact))
	require.NoError(t, os.Remove(filepath.Join(f.dir, "sessions", snap.ID+".pending.json")))

	f.upstream.transcribeStatus.Store(http.StatusOK)
	require.NoError(t, f.pipeline.Retry(context.Background(), snap.ID))

	result, err := f.pipeline.Result(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello team", result.Transcript)
	assert.Equal(t, "# Summary", result.Summary)
	assert.Empty(t, result.Participants)
	assert.Equal(t, []byte("ID3 fake mp3"), f.upstream.uploaded[snap.ID+".mp3"])
	assert.NoFileExists(t, artifact.Path)
}

func TestPipeline_Archive(t *testing.T) {
	t.Run("uploaded before the local copy is removed", func(t *testing.T) {
		f := newFixture(t)
		f.archive.enabled = true
		snap, artifact := f.session(t)

		require.NoError(t, f.pipeline.Run(context.Background(), snap, artifact))
		assert.Equal(t, []string{"recordings/" + snap.ID + ".mp3"}, f.archive.stored)
		assert.NoFileExists(t, artifact.Path)
	})

	t.Run("failed upload keeps the local copy", func(t *testing.T) {
		f := newFixture(t)
		f.archive.enabled = true
		f.archive.err = errors.New("bucket unreachable")
		snap, artifact := f.session(t)

		require.NoError(t, f.pipeline.Run(context.Background(), snap, artifact))
		assert.FileExists(t, artifact.Path)
	})
}
