package config

import "os"

// LoadGeminiConfig loads Gemini configuration from server config.
// It returns the API key and default model, with environment variable
// overrides applied.
func LoadGeminiConfig(cfg *ServerConfig) (apiKey, model string) {
	if cfg != nil {
		apiKey = cfg.Gemini.APIKey
		model = cfg.Gemini.Model
	}

	if envAPIKey := os.Getenv("GEMINI_API_KEY"); envAPIKey != "" {
		apiKey = envAPIKey
	}
	if envModel := os.Getenv("GEMINI_MODEL"); envModel != "" {
		model = envModel
	}

	return apiKey, model
}
