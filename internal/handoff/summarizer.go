package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

// SummaryRequest is what a summarizer works from.
type SummaryRequest struct {
	Transcript   string
	Participants []string
}

// Summary is a summarizer's structured answer. Raw is the response exactly
// as the service returned it.
type Summary struct {
	Summary      string
	UsersSummary map[string]string
	Raw          json.RawMessage
}

// Summarizer turns a transcript into a global and a per-participant summary.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (*Summary, error)
}

// HTTPSummarizer posts {"text": transcript} to an LLM service.
type HTTPSummarizer struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPSummarizer(svc config.ServiceConfig, client *http.Client, logger *zap.Logger) *HTTPSummarizer {
	return &HTTPSummarizer{
		url:     svc.URL,
		timeout: svc.Timeout,
		client:  client,
		logger:  logger.Named("summarizer"),
	}
}

type summaryFields struct {
	Summary      string            `json:"summary"`
	UsersSummary map[string]string `json:"users_summary"`
}

// summaryEnvelope accepts the fields at top level or nested under output.
type summaryEnvelope struct {
	summaryFields

	Success *bool          `json:"success"`
	Details string         `json:"details"`
	Output  *summaryFields `json:"output"`
}

func (s *HTTPSummarizer) Summarize(ctx context.Context, req SummaryRequest) (*Summary, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(map[string]string{"text": req.Transcript})
	if err != nil {
		return nil, fmt.Errorf("encode summarization request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build summarization request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	body, err := do(s.client, httpReq, StageSummarizing)
	if err != nil {
		return nil, err
	}

	var env summaryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &UpstreamError{Stage: StageSummarizing, Body: "invalid JSON response", Err: err}
	}
	if env.Success != nil && !*env.Success {
		return nil, &UpstreamError{Stage: StageSummarizing, Body: truncate(env.Details, maxErrorBody)}
	}

	fields := env.summaryFields
	if env.Output != nil {
		fields = *env.Output
	}

	s.logger.Debug("Summary received",
		zap.Int("chars", len(fields.Summary)),
		zap.Int("users", len(fields.UsersSummary)))

	return &Summary{
		Summary:      fields.Summary,
		UsersSummary: fields.UsersSummary,
		Raw:          json.RawMessage(body),
	}, nil
}

const summarySystemPrompt = "You summarize meeting transcripts. Reply with a JSON object with two keys: " +
	"\"summary\", a markdown summary of the whole meeting, and \"users_summary\", an object mapping " +
	"each participant name to a markdown summary of what that participant said and committed to. " +
	"Use the participant names exactly as given. Write in the language of the transcript."

// OpenAISummarizer asks a chat model for the summary in JSON mode.
type OpenAISummarizer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewOpenAISummarizer(svc config.ServiceConfig, client *openai.Client, logger *zap.Logger) *OpenAISummarizer {
	model := svc.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAISummarizer{
		client:  client,
		model:   model,
		timeout: svc.Timeout,
		logger:  logger.Named("summarizer"),
	}
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, req SummaryRequest) (*Summary, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var user strings.Builder
	user.WriteString("Participants: ")
	if len(req.Participants) == 0 {
		user.WriteString("unknown")
	} else {
		user.WriteString(strings.Join(req.Participants, ", "))
	}
	user.WriteString("\n\nTranscript:\n")
	user.WriteString(req.Transcript)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, openAIError(StageSummarizing, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &UpstreamError{Stage: StageSummarizing, Body: "model returned no choices"}
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)

	var fields summaryFields
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, &UpstreamError{Stage: StageSummarizing, Body: "model returned invalid JSON", Err: err}
	}

	s.logger.Debug("Summary received",
		zap.String("model", s.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return &Summary{
		Summary:      fields.Summary,
		UsersSummary: fields.UsersSummary,
		Raw:          json.RawMessage(content),
	}, nil
}
