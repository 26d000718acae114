// Package openai provides OpenAI-related infrastructure and Fx modules.
package openai

import (
	"github.com/sashabaranov/go-openai"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

// Module provides OpenAI-related dependencies.
var Module = fx.Module("openai",
	fx.Provide(NewClient),
)

// NewClient creates the OpenAI client used by the openai handoff backends.
// It returns nil when no stage is configured to use OpenAI.
func NewClient(cfg *config.Config, logger *zap.Logger) *openai.Client {
	if !cfg.UsesOpenAI() {
		logger.Debug("No handoff stage uses OpenAI, client not created")

		return nil
	}

	clientCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAI.BaseURL
	}

	client := openai.NewClientWithConfig(clientCfg)
	logger.Info("OpenAI client created successfully.", zap.String("base_url", clientCfg.BaseURL))

	return client
}
