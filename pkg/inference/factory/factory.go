package factory

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/inference/mock"
	"github.com/go-go-golems/parley/pkg/inference/ollama"
	"github.com/go-go-golems/parley/pkg/inference/openai"
)

// Settings selects and configures a model backend. Provider is one of
// "mock", "openai", "ollama"; an empty provider falls back to the default.
type Settings struct {
	Provider string          `mapstructure:"provider"`
	OpenAI   openai.Settings `mapstructure:"openai"`
	Ollama   ollama.Settings `mapstructure:"ollama"`
}

const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// DefaultProvider is used when no provider is configured. The mock backend
// works without credentials or a running server.
func DefaultProvider() string {
	return ProviderMock
}

func SupportedProviders() []string {
	return []string{ProviderMock, ProviderOpenAI, ProviderOllama}
}

// NewInvoker creates the Invoker selected by settings.Provider.
func NewInvoker(settings Settings) (inference.Invoker, error) {
	provider := strings.ToLower(settings.Provider)
	if provider == "" {
		provider = DefaultProvider()
	}
	switch provider {
	case ProviderMock:
		return mock.NewInvoker(), nil
	case ProviderOpenAI:
		invoker, err := openai.NewInvoker(settings.OpenAI)
		if err != nil {
			return nil, errors.Wrap(err, "invalid openai settings")
		}
		return invoker, nil
	case ProviderOllama:
		invoker, err := ollama.NewInvoker(settings.Ollama)
		if err != nil {
			return nil, errors.Wrap(err, "invalid ollama settings")
		}
		return invoker, nil
	default:
		return nil, errors.Errorf("unsupported provider %s. Supported providers: %s",
			provider, strings.Join(SupportedProviders(), ", "))
	}
}
