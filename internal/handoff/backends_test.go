package handoff

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func recordingFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "session.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	return path
}

func TestHTTPTranscriber_ResponseShapes(t *testing.T) {
	tests := map[string]struct {
		body string
		want string
	}{
		"transcript": {body: `{"transcript": "hi there"}`, want: "hi there"},
		"text":       {body: `{"text": "hi there"}`, want: "hi there"},
		"segments":   {body: `{"segments": [{"text": " hi "}, {"text": ""}, {"text": "there"}]}`, want: "hi there"},
		"empty":      {body: `{"transcript": ""}`, want: ""},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			srv := serve(t, http.StatusOK, tt.body)
			tr := NewHTTPTranscriber(config.ServiceConfig{URL: srv.URL}, srv.Client(), zaptest.NewLogger(t))

			got, err := tr.Transcribe(context.Background(), recordingFile(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPTranscriber_Errors(t *testing.T) {
	t.Run("no transcript field", func(t *testing.T) {
		srv := serve(t, http.StatusOK, `{"language": "en"}`)
		tr := NewHTTPTranscriber(config.ServiceConfig{URL: srv.URL}, srv.Client(), zaptest.NewLogger(t))

		_, err := tr.Transcribe(context.Background(), recordingFile(t))
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("not json", func(t *testing.T) {
		srv := serve(t, http.StatusOK, `<html>`)
		tr := NewHTTPTranscriber(config.ServiceConfig{URL: srv.URL}, srv.Client(), zaptest.NewLogger(t))

		_, err := tr.Transcribe(context.Background(), recordingFile(t))
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("missing recording", func(t *testing.T) {
		srv := serve(t, http.StatusOK, `{}`)
		tr := NewHTTPTranscriber(config.ServiceConfig{URL: srv.URL}, srv.Client(), zaptest.NewLogger(t))

		_, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.mp3"))
		assert.ErrorIs(t, err, ErrArtifactNotFound)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		t.Cleanup(srv.Close)
		tr := NewHTTPTranscriber(config.ServiceConfig{URL: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client(), zaptest.NewLogger(t))

		_, err := tr.Transcribe(context.Background(), recordingFile(t))
		require.ErrorIs(t, err, ErrUpstream)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("long error body is truncated", func(t *testing.T) {
		long := make([]byte, 4*maxErrorBody)
		for i := range long {
			long[i] = 'e'
		}
		srv := serve(t, http.StatusBadGateway, string(long))
		tr := NewHTTPTranscriber(config.ServiceConfig{URL: srv.URL}, srv.Client(), zaptest.NewLogger(t))

		_, err := tr.Transcribe(context.Background(), recordingFile(t))
		var upErr *UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, http.StatusBadGateway, upErr.StatusCode)
		assert.Len(t, upErr.Body, maxErrorBody+len("..."))
	})
}

func TestHTTPSummarizer(t *testing.T) {
	tests := map[string]struct {
		status  int
		body    string
		want    string
		users   map[string]string
		wantErr bool
	}{
		"nested output": {
			status: http.StatusOK,
			body:   `{"success": true, "output": {"summary": "S", "users_summary": {"bob": "B"}}}`,
			want:   "S",
			users:  map[string]string{"bob": "B"},
		},
		"top level": {
			status: http.StatusOK,
			body:   `{"summary": "S", "users_summary": {"bob": "B"}}`,
			want:   "S",
			users:  map[string]string{"bob": "B"},
		},
		"reported failure": {
			status:  http.StatusOK,
			body:    `{"success": false, "details": "Error Occured : model offline"}`,
			wantErr: true,
		},
		"server error": {
			status:  http.StatusInternalServerError,
			body:    `{"success": false, "details": "boom"}`,
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body)
			s := NewHTTPSummarizer(config.ServiceConfig{URL: srv.URL}, srv.Client(), zaptest.NewLogger(t))

			got, err := s.Summarize(context.Background(), SummaryRequest{Transcript: "hello"})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUpstream)

				var upErr *UpstreamError
				require.ErrorAs(t, err, &upErr)
				assert.Equal(t, StageSummarizing, upErr.Stage)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Summary)
			assert.Equal(t, tt.users, got.UsersSummary)
			assert.JSONEq(t, tt.body, string(got.Raw))
		})
	}
}

func TestUpstreamError_Message(t *testing.T) {
	err := &UpstreamError{Stage: StageTranscribing, StatusCode: 500, Body: "oops"}
	assert.Equal(t, "transcribing: upstream returned HTTP 500: oops", err.Error())

	err = &UpstreamError{Stage: StageSummarizing, Err: context.Canceled}
	assert.Equal(t, "summarizing: context canceled", err.Error())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTruncate(t *testing.T) {
	tests := map[string]struct {
		in   string
		n    int
		want string
	}{
		"short":               {in: "boom", n: 8, want: "boom"},
		"ascii":               {in: "0123456789", n: 4, want: "0123..."},
		"cut inside a rune":   {in: "ééé", n: 3, want: "é..."},
		"on a rune boundary":  {in: "ééé", n: 4, want: "éé..."},
		"first rune too wide": {in: "错误", n: 2, want: "..."},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
