package inference

import (
	"fmt"
	"strings"
)

// New builds the provider registered under name. Names are case-insensitive;
// an empty name selects Gemini.
func New(name string, opts ...Option) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProviderGemini:
		return NewGemini(opts...)
	case ProviderOpenAI:
		return NewOpenAI(opts...)
	case ProviderOllama:
		defaults := []Option{WithBaseURL(DefaultOllamaBaseURL), WithVisionModel(DefaultOllamaModel)}
		return NewOpenAI(append(defaults, opts...)...)
	case ProviderMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// DefaultModel returns the vision model New uses for name when none is set.
func DefaultModel(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProviderGemini:
		return DefaultGeminiModel
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderOllama:
		return DefaultOllamaModel
	}
	return ""
}
