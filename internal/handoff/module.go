// Package handoff processes finished recordings: transcription,
// summarization and the persisted per-session result.
package handoff

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
	"github.com/Raikerian/go-discord-recorder/internal/voice"
)

// Module provides the handoff pipeline and its backends.
var Module = fx.Module("handoff",
	fx.Provide(
		NewHTTPClient,
		NewResultStore,
		NewTranscriber,
		NewSummarizer,
		NewArchive,
		fx.Annotate(
			NewPipeline,
			fx.As(fx.Self()),
			fx.As(new(voice.Handoff)),
		),
	),
)

// NewHTTPClient returns the client used for the HTTP backends. Per-call
// deadlines come from each stage's timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{}
}

// BackendParams holds dependencies for the stage backends.
type BackendParams struct {
	fx.In
	Cfg        *config.Config
	Logger     *zap.Logger
	HTTPClient *http.Client
	OpenAI     *openai.Client `optional:"true"`
}

var errNoOpenAIClient = errors.New("openai provider selected but no OpenAI client is configured")

func NewTranscriber(params BackendParams) (Transcriber, error) {
	svc := params.Cfg.Handoff.Transcription

	switch svc.Provider {
	case config.ProviderHTTP:
		return NewHTTPTranscriber(svc, params.HTTPClient, params.Logger), nil
	case config.ProviderOpenAI:
		if params.OpenAI == nil {
			return nil, errNoOpenAIClient
		}

		return NewOpenAITranscriber(svc, params.OpenAI, params.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported transcription provider %q", svc.Provider)
	}
}

func NewSummarizer(params BackendParams) (Summarizer, error) {
	svc := params.Cfg.Handoff.Summarization

	switch svc.Provider {
	case config.ProviderHTTP:
		return NewHTTPSummarizer(svc, params.HTTPClient, params.Logger), nil
	case config.ProviderOpenAI:
		if params.OpenAI == nil {
			return nil, errNoOpenAIClient
		}

		return NewOpenAISummarizer(svc, params.OpenAI, params.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported summarization provider %q", svc.Provider)
	}
}
