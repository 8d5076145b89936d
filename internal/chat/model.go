package chat

import "os"

// Gemini Model IDs
//
// | Model Name            | API Model ID          | Use Case                      |
// |-----------------------|-----------------------|-------------------------------|
// | Gemini 2.5 Flash      | gemini-2.5-flash      | Stable, balanced performance  |
// | Gemini 2.5 Pro        | gemini-2.5-pro        | Stable, high-reasoning tasks  |
// | Gemini 2.5 Flash-Lite | gemini-2.5-flash-lite | High-throughput, lowest cost  |
const (
	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25Pro is stable, for high-reasoning tasks.
	ModelGemini25Pro = "gemini-2.5-pro"

	// ModelGemini25FlashLite is for high-throughput, lowest cost.
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"
)

// DefaultModelName is the model every forensic analysis uses unless
// GEMINI_MODEL says otherwise.
const DefaultModelName = ModelGemini25Flash

// GetModelName returns GEMINI_MODEL when set, otherwise DefaultModelName.
func GetModelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}
