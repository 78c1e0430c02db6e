package providers

import (
	"fmt"

	"github.com/cairnhq/cairn/internal/config"
)

// Resolve maps a task's (model_provider, model_name) pair to a configured
// adapter. Unknown providers are an error rather than a silent default so
// that a mistyped payload fails fast.
func Resolve(cfg *config.Config, providerName, model string) (Provider, error) {
	switch providerName {
	case "", "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider: no api key configured")
		}
		return NewAnthropicProvider(cfg.Providers.Anthropic.APIKey,
			WithAnthropicModel(model),
			WithAnthropicBaseURL(cfg.Providers.Anthropic.BaseURL)), nil

	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider: no api key configured")
		}
		return NewOpenAIProvider(cfg.Providers.OpenAI.APIKey,
			WithOpenAIModel(model),
			WithOpenAIBaseURL(cfg.Providers.OpenAI.BaseURL)), nil

	default:
		return nil, fmt.Errorf("unknown model provider %q", providerName)
	}
}
