package llm

import (
	"fmt"
	"strings"

	"chatkeeper/internal/config"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderYandex = "yandex"
)

// Factory creates completion clients with consistent wiring; the rest of the
// application neither knows nor cares which vendor serves a request.
type Factory struct {
	OpenaiAPIKey       string
	OpenaiBaseURL      string
	OpenaiModel        string
	OpenRouterReferrer string
	OpenRouterTitle    string
	GeminiAPIKey       string
	GeminiBaseURL      string
	GeminiModel        string
	YandexOAuthToken   string
	YandexFolderID     string
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		OpenaiAPIKey:       cfg.OpenAIAPIKey,
		OpenaiBaseURL:      cfg.OpenAIBaseURL,
		OpenaiModel:        cfg.OpenAIModel,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		GeminiAPIKey:       cfg.GeminiAPIKey,
		GeminiBaseURL:      cfg.GeminiBaseURL,
		GeminiModel:        cfg.GeminiModel,
		YandexOAuthToken:   cfg.YandexOAuthToken,
		YandexFolderID:     cfg.YandexFolderID,
	}
}

func (f *Factory) CreateClient(provider string) (Client, error) {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return NewOpenAI(f.OpenaiAPIKey, f.OpenaiBaseURL, f.OpenaiModel, f.OpenRouterReferrer, f.OpenRouterTitle), nil
	case ProviderGemini:
		// Gemini is served through its OpenAI-compatible endpoint.
		return NewOpenAI(f.GeminiAPIKey, f.GeminiBaseURL, f.GeminiModel, "", ""), nil
	case ProviderYandex:
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}
