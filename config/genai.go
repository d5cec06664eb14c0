package config

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"google.golang.org/genai"
)

var (
	genaiClient   *genai.Client
	genaiClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// GetGenAIClient returns the shared Gemini client. The client handle is
// process-scoped and passed into the pipeline explicitly; callers must not
// cache their own copies across reconnects.
func GetGenAIClient(ctx context.Context) (*genai.Client, error) {
	genaiClientMu.Lock()
	defer genaiClientMu.Unlock()

	if genaiClient != nil {
		return genaiClient, nil
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	genaiClient = client
	return genaiClient, nil
}
