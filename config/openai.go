package config

import "os"

// LoadOpenAIConfig loads OpenAI configuration from server config.
// It returns the API key, base URL, default model, and organization, with
// environment variable overrides applied.
func LoadOpenAIConfig(cfg *ServerConfig) (apiKey, baseURL, model, organization string) {
	if cfg != nil {
		apiKey = cfg.OpenAI.APIKey
		baseURL = cfg.OpenAI.BaseURL
		model = cfg.OpenAI.Model
		organization = cfg.OpenAI.Organization
	}

	if envAPIKey := os.Getenv("OPENAI_API_KEY"); envAPIKey != "" {
		apiKey = envAPIKey
	}
	if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
		baseURL = envBaseURL
	}
	if envModel := os.Getenv("OPENAI_MODEL"); envModel != "" {
		model = envModel
	}
	if envOrg := os.Getenv("OPENAI_ORG_ID"); envOrg != "" {
		organization = envOrg
	}

	return apiKey, baseURL, model, organization
}
