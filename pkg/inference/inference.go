// Package inference provides clients for multimodal models that describe images.
//
// The package abstracts vision analysis behind a single Provider interface,
// so the describe controller does not care whether frames go to Gemini or to
// any endpoint that implements the OpenAI-compatible chat API (OpenAI,
// Ollama, vLLM, Together, and others).
//
// Example usage:
//
//	provider, _ := inference.NewGemini(
//	    inference.WithAPIKey(os.Getenv("GEMINI_API_KEY")),
//	    inference.WithVisionModel("gemini-1.5-pro"),
//	)
//	defer provider.Close()
//
//	resp, _ := provider.Vision(ctx, &inference.VisionRequest{
//	    Image:  frame,
//	    Prompt: "What do you see?",
//	})
package inference

import (
	"context"
	"image"
)

// Provider is the inference interface used for image description.
// All implementations must satisfy this interface.
type Provider interface {
	// Name identifies the provider ("gemini", "openai", "mock").
	Name() string

	// Vision analyzes an image with a text prompt.
	Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error)

	// Health checks provider connectivity and credential validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// VisionRequest for image analysis.
type VisionRequest struct {
	// Image to analyze.
	Image image.Image

	// JPEG is the already encoded form of Image. When set it is sent as-is.
	JPEG []byte

	// Prompt describing what to analyze or ask about the image.
	Prompt string

	// Model overrides the default vision model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness.
	Temperature float64
}

// HasImage reports whether the request carries any image data.
func (r *VisionRequest) HasImage() bool {
	return r != nil && (r.Image != nil || len(r.JPEG) > 0)
}

// VisionResponse from image analysis.
type VisionResponse struct {
	// Content is the natural language response.
	Content string

	// FinishReason is the provider's stop reason, if reported.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for analysis.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
