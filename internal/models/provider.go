package models

import "strings"

// DetectProvider infers the provider from a model name. Usage records always
// carry an explicit provider when the model client knows it; this is the
// fallback for records built from configuration or fallback paths.
func DetectProvider(model string) string {
	if model == "" {
		return "unknown"
	}
	ml := strings.ToLower(model)

	switch {
	case strings.Contains(ml, "gpt-") || strings.HasPrefix(ml, "o1") || strings.HasPrefix(ml, "o3"):
		return "openai"
	case strings.Contains(ml, "claude") || strings.Contains(ml, "opus") ||
		strings.Contains(ml, "sonnet") || strings.Contains(ml, "haiku"):
		return "anthropic"
	case strings.Contains(ml, "gemini"):
		return "google"
	case strings.Contains(ml, "deepseek"):
		return "deepseek"
	case strings.Contains(ml, "llama"):
		return "ollama"
	default:
		return "unknown"
	}
}
