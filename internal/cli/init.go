package cli

import (
	"context"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/blackbee/ai-forensics/internal/auth"
	"github.com/blackbee/ai-forensics/internal/chat"
)

// InitGeminiClient resolves the API key from keys, creates a Gemini client
// and, unless skipValidate is set, validates the key against model. It exits
// fatally on failure.
func InitGeminiClient(ctx context.Context, keys auth.KeySources, model string, skipValidate bool) *genai.Client {
	apiKey, source, err := keys.Resolve(ctx)
	if err != nil {
		HandleValidationError(err)
	}
	log.Debug().Str("source", string(source)).Msg("API key resolved")

	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}

	log.Info().Msg("connection successful - Gemini client initialized")

	if skipValidate {
		log.Warn().Msg("Skipping API key validation")
		return client
	}

	if err := auth.ValidateAPIKey(ctx, client.Models, model); err != nil {
		HandleValidationError(err)
	}

	log.Info().Msg("API key validation complete - ready for operations")
	return client
}
