package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nexuslabs/nexus/internal/agent"
	"github.com/nexuslabs/nexus/internal/agent/providers"
	"github.com/nexuslabs/nexus/internal/facade"
	"github.com/nexuslabs/nexus/internal/toolloop"
	"github.com/nexuslabs/nexus/internal/usage"
)

// newProviderResolver builds a facade.ProviderResolver that lazily
// constructs one provider adapter per distinct provider name and bridges
// it to the tool loop's contract via facade.BridgeLLMProvider. Adapters
// are cached across calls within a single process, since every kept
// provider adapter is safe for concurrent use.
func newProviderResolver(registry *agent.ToolRegistry, cost *usage.CostTracker) facade.ProviderResolver {
	cache := make(map[string]agent.LLMProvider)

	return func(provider, model string) (toolloop.ProviderAsk, error) {
		adapter, ok := cache[provider]
		if !ok {
			built, err := buildProvider(provider)
			if err != nil {
				return nil, err
			}
			cache[provider] = built
			adapter = built
		}
		return facade.BridgeLLMProvider(adapter, model, registry, cost), nil
	}
}

func buildProvider(provider string) (agent.LLMProvider, error) {
	switch provider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:     os.Getenv("ANTHROPIC_API_KEY"),
			MaxRetries: 3,
			RetryDelay: time.Second,
		})
	case "openai":
		return providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY")), nil
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:     os.Getenv("GOOGLE_API_KEY"),
			MaxRetries: 3,
			RetryDelay: time.Second,
		})
	default:
		return nil, fmt.Errorf("no provider adapter wired for %q", provider)
	}
}
