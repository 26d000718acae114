package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

// Transcriber turns an encoded recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// maxResponseBody bounds how much of a service response is read.
const maxResponseBody = 16 << 20

// HTTPTranscriber posts the recording as a multipart "file" field.
type HTTPTranscriber struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPTranscriber(svc config.ServiceConfig, client *http.Client, logger *zap.Logger) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:     svc.URL,
		timeout: svc.Timeout,
		client:  client,
		logger:  logger.Named("transcriber"),
	}
}

type transcriptionResponse struct {
	Transcript *string `json:"transcript"`
	Text       *string `json:"text"`
	Segments   []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

func (r *transcriptionResponse) text() (string, bool) {
	switch {
	case r.Transcript != nil:
		return *r.Transcript, true
	case r.Text != nil:
		return *r.Text, true
	case len(r.Segments) > 0:
		parts := make([]string, 0, len(r.Segments))
		for _, seg := range r.Segments {
			if t := strings.TrimSpace(seg.Text); t != "" {
				parts = append(parts, t)
			}
		}

		return strings.Join(parts, " "), true
	default:
		return "", false
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrArtifactNotFound
		}

		return "", fmt.Errorf("open recording: %w", err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()

		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, pr)
	if err != nil {
		pr.Close()

		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	body, err := do(t.client, req, StageTranscribing)
	if err != nil {
		return "", err
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &UpstreamError{Stage: StageTranscribing, Body: "invalid JSON response", Err: err}
	}
	text, ok := parsed.text()
	if !ok {
		return "", &UpstreamError{Stage: StageTranscribing, Body: "response has no transcript"}
	}

	t.logger.Debug("Transcription received", zap.String("file", filepath.Base(path)), zap.Int("chars", len(text)))

	return text, nil
}

// do sends req and returns the body of a 2xx response. Anything else is an
// UpstreamError for stage.
func do(client *http.Client, req *http.Request, stage Stage) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Stage: stage, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &UpstreamError{Stage: stage, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			Stage:      stage,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(body)), maxErrorBody),
		}
	}

	return body, nil
}

// OpenAITranscriber uses the OpenAI audio transcription endpoint.
type OpenAITranscriber struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewOpenAITranscriber(svc config.ServiceConfig, client *openai.Client, logger *zap.Logger) *OpenAITranscriber {
	model := svc.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &OpenAITranscriber{
		client:  client,
		model:   model,
		timeout: svc.Timeout,
		logger:  logger.Named("transcriber"),
	}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrArtifactNotFound
		}

		return "", fmt.Errorf("stat recording: %w", err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: path,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", openAIError(StageTranscribing, err)
	}

	t.logger.Debug("Transcription received", zap.String("model", t.model), zap.Int("chars", len(resp.Text)))

	return resp.Text, nil
}

func openAIError(stage Stage, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{
			Stage:      stage,
			StatusCode: apiErr.HTTPStatusCode,
			Body:       truncate(apiErr.Message, maxErrorBody),
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{Stage: stage, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	return &UpstreamError{Stage: stage, Err: err}
}
