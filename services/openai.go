package services

import (
	"os"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultExtractionClient returns the singleton OpenAI-compatible client used
// by the extraction capability. OPENAI_BASE_URL allows pointing it at any
// compatible endpoint (Ollama, OpenRouter, a local gateway).
var DefaultExtractionClient = sync.OnceValue(func() *openai.Client {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		panic("OPENAI_API_KEY is not set")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(config)
})

// ExtractionModel returns the chat model used for triplet extraction.
func ExtractionModel() string {
	if model := os.Getenv("EXTRACTION_MODEL"); model != "" {
		return model
	}
	return openai.GPT4oMini
}
