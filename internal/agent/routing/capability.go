package routing

import (
	"crypto/rand"
	"math/big"
	"os"
	"regexp"
	"strings"

	"github.com/nexuslabs/nexus/internal/models"
)

// envVarForProvider names the environment variable that must be set for
// the given provider to be usable.
var envVarForProvider = map[models.Provider]string{
	models.ProviderOpenAI:    "OPENAI_API_KEY",
	models.ProviderAnthropic: "ANTHROPIC_API_KEY",
	models.ProviderGoogle:    "GOOGLE_API_KEY",
}

const (
	envXAI        = "XAI_API_KEY"
	envDeepSeek   = "DEEPSEEK_API_KEY"
	envOpenRouter = "OPENROUTER_API_KEY"
	envElevenLabs = "ELEVENLABS_API_KEY"
)

var (
	anthropicKeyPattern   = regexp.MustCompile(`^sk-ant-`)
	openRouterKeyPattern  = regexp.MustCompile(`^sk-or-`)
)

// KeyLookup resolves an environment variable by name. Tests substitute a
// fake to avoid depending on process environment.
type KeyLookup func(name string) (string, bool)

// OSEnvLookup resolves keys from the process environment.
func OSEnvLookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// hasValidKey reports whether envVar is set and, when pattern is non-nil,
// matches the provider's expected key format.
func hasValidKey(lookup KeyLookup, envVar string, pattern *regexp.Regexp) bool {
	value, ok := lookup(envVar)
	if !ok || strings.TrimSpace(value) == "" {
		return false
	}
	if pattern != nil {
		return pattern.MatchString(value)
	}
	return true
}

// providerAvailable reports whether the named provider has a correctly
// formatted API key available via lookup. Providers without a dedicated
// env var (e.g. ollama, a local/self-hosted provider) are always
// considered available.
func providerAvailable(provider models.Provider, lookup KeyLookup) bool {
	switch provider {
	case models.ProviderAnthropic:
		return hasValidKey(lookup, "ANTHROPIC_API_KEY", anthropicKeyPattern)
	case models.ProviderOpenAI:
		return hasValidKey(lookup, "OPENAI_API_KEY", nil)
	case models.ProviderGoogle:
		return hasValidKey(lookup, "GOOGLE_API_KEY", nil)
	case models.ProviderXAI:
		return hasValidKey(lookup, envXAI, nil)
	case models.ProviderDeepSeek:
		return hasValidKey(lookup, envDeepSeek, nil)
	case models.ProviderOpenRouter:
		return hasValidKey(lookup, envOpenRouter, openRouterKeyPattern)
	default:
		if envVar, ok := envVarForProvider[provider]; ok {
			return hasValidKey(lookup, envVar, nil)
		}
		return true
	}
}

// ElevenLabsAvailable reports whether a valid ElevenLabs key is
// configured, consulted by the voice secondary mode before it attempts to
// stream audio through that provider.
func ElevenLabsAvailable(lookup KeyLookup) bool {
	if lookup == nil {
		lookup = OSEnvLookup
	}
	return hasValidKey(lookup, envElevenLabs, nil)
}

// CapabilityResult reports whether an agent definition can currently run,
// and why not if it can't.
type CapabilityResult struct {
	CanRun           bool
	Model            string
	Provider         models.Provider
	AvailableModels  []string
	UnavailableModels []string
	MissingProvider  models.Provider
	Reason           string
}

// AgentSpec is the minimal shape of an agent definition the capability
// check needs: either an explicit model, or a model class name to resolve
// against the class registry.
type AgentSpec struct {
	Model      string
	ModelClass string
}

// CanRunAgent determines whether spec's model (or, absent that, its
// resolved model class) has a reachable provider given the keys lookup
// exposes. An explicit Model takes precedence over ModelClass: if both are
// set, only the explicit model is checked.
func CanRunAgent(spec AgentSpec, catalog *models.Catalog, classes *models.ClassRegistry, lookup KeyLookup) CapabilityResult {
	if lookup == nil {
		lookup = OSEnvLookup
	}

	if spec.Model != "" {
		return checkExplicitModel(spec.Model, catalog, lookup)
	}
	return checkModelClass(spec.ModelClass, catalog, classes, lookup)
}

func checkExplicitModel(modelID string, catalog *models.Catalog, lookup KeyLookup) CapabilityResult {
	model, ok := catalog.Get(modelID)
	if !ok {
		return CapabilityResult{CanRun: false, Reason: "unknown model: " + modelID}
	}
	if !providerAvailable(model.Provider, lookup) {
		return CapabilityResult{
			CanRun:          false,
			Model:           model.ID,
			Provider:        model.Provider,
			MissingProvider: model.Provider,
			Reason:          "missing or invalid API key for provider " + string(model.Provider),
		}
	}
	return CapabilityResult{CanRun: true, Model: model.ID, Provider: model.Provider}
}

func checkModelClass(className string, catalog *models.Catalog, classes *models.ClassRegistry, lookup KeyLookup) CapabilityResult {
	if classes == nil {
		classes = models.DefaultClassRegistry()
	}
	class := classes.Get(className)

	var available, unavailable []string
	var passing []*models.Model
	var missingProvider models.Provider

	for _, modelID := range class.Models {
		model, ok := catalog.Get(modelID)
		if !ok {
			unavailable = append(unavailable, modelID)
			continue
		}
		if providerAvailable(model.Provider, lookup) {
			available = append(available, modelID)
			passing = append(passing, model)
		} else {
			unavailable = append(unavailable, modelID)
			if missingProvider == "" {
				missingProvider = model.Provider
			}
		}
	}

	if len(passing) > 0 {
		chosen := passing[0]
		if class.Random {
			chosen = passing[randomIndex(len(passing))]
		}
		return CapabilityResult{
			CanRun:            true,
			Model:             chosen.ID,
			Provider:          chosen.Provider,
			AvailableModels:   available,
			UnavailableModels: unavailable,
		}
	}

	return CapabilityResult{
		CanRun:            false,
		AvailableModels:   available,
		UnavailableModels: unavailable,
		MissingProvider:   missingProvider,
		Reason:            "no model in class is reachable with the configured API keys",
	}
}

// randomIndex uniformly picks an index in [0, n) using a CSPRNG. n must be
// positive. A rand.Int failure (exhausted entropy source) falls back to the
// first index rather than panicking a request path.
func randomIndex(n int) int {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(i.Int64())
}
