package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	"testing"
	"time"
)

func TestMockProvider(t *testing.T) {
	ctx := context.Background()
	mock := NewMock()

	visionResp, err := mock.Vision(ctx, &VisionRequest{
		Image:  image.NewRGBA(image.Rect(0, 0, 2, 2)),
		Prompt: "What do you see?",
	})
	if err != nil {
		t.Fatalf("Vision failed: %v", err)
	}
	if visionResp.Content == "" {
		t.Error("Expected content in vision response")
	}

	if err := mock.Health(ctx); err != nil {
		t.Errorf("Health failed: %v", err)
	}

	// Test call tracking
	if mock.CallCount("Vision") != 1 {
		t.Errorf("Expected 1 Vision call, got %d", mock.CallCount("Vision"))
	}
	last := mock.LastCall()
	if last == nil || last.Method != "Health" {
		t.Errorf("Expected last call Health, got %+v", last)
	}
	if calls := mock.Calls(); len(calls) != 2 || calls[0].Request.Prompt != "What do you see?" {
		t.Errorf("Unexpected calls: %+v", calls)
	}

	// Test reset
	mock.Reset()
	if len(mock.Calls()) != 0 {
		t.Error("Expected 0 calls after reset")
	}
	if mock.LastCall() != nil {
		t.Error("Expected nil LastCall after reset")
	}
}

func TestMockWithError(t *testing.T) {
	ctx := context.Background()
	testErr := errors.New("test error")
	mock := WithError(testErr)

	_, err := mock.Vision(ctx, &VisionRequest{})
	if !errors.Is(err, testErr) {
		t.Errorf("Expected test error, got: %v", err)
	}
	if err := mock.Health(ctx); !errors.Is(err, testErr) {
		t.Errorf("Expected test error from Health, got: %v", err)
	}
}

func TestMockWithoutVisionFunc(t *testing.T) {
	mock := &Mock{}
	_, err := mock.Vision(context.Background(), &VisionRequest{})
	if !errors.Is(err, ErrVisionNotSupported) {
		t.Errorf("Expected ErrVisionNotSupported, got: %v", err)
	}
}

func TestFunctionalOptions(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Apply(
		WithBaseURL("http://localhost:11434/v1"),
		WithAPIKey("test-key"),
		WithVisionModel("llava"),
		WithMaxTokens(512),
		WithTemperature(0.5),
		WithJPEGQuality(70),
		WithTimeout(5*time.Second),
		WithCredentialsFile("/tmp/creds.json"),
		WithAccessToken("ya29.token"),
	)

	if cfg.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("Expected Ollama URL, got %s", cfg.BaseURL)
	}
	if cfg.APIKey != "test-key" {
		t.Errorf("Expected test-key, got %s", cfg.APIKey)
	}
	if cfg.VisionModel != "llava" {
		t.Errorf("Expected llava, got %s", cfg.VisionModel)
	}
	if cfg.MaxTokens != 512 {
		t.Errorf("Expected 512, got %d", cfg.MaxTokens)
	}
	if cfg.Temperature != 0.5 {
		t.Errorf("Expected 0.5, got %f", cfg.Temperature)
	}
	if cfg.JPEGQuality != 70 {
		t.Errorf("Expected 70, got %d", cfg.JPEGQuality)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Expected 5s, got %s", cfg.Timeout)
	}
	if cfg.CredentialsFile != "/tmp/creds.json" || cfg.AccessToken != "ya29.token" {
		t.Errorf("Expected Google credentials to be set, got %+v", cfg)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxTokens != 2048 {
		t.Errorf("Expected 2048, got %d", cfg.MaxTokens)
	}
	if cfg.JPEGQuality != DefaultJPEGQuality {
		t.Errorf("Expected quality %d, got %d", DefaultJPEGQuality, cfg.JPEGQuality)
	}
	if cfg.Timeout != 60*time.Second {
		t.Errorf("Expected 60s timeout, got %s", cfg.Timeout)
	}
	if cfg.Logger == nil {
		t.Error("Expected a default logger")
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		status int
		check  func(*APIError) bool
		name   string
	}{
		{429, (*APIError).IsRateLimited, "rate limited"},
		{401, (*APIError).IsUnauthorized, "unauthorized"},
		{403, (*APIError).IsForbidden, "forbidden"},
		{404, (*APIError).IsNotFound, "not found"},
		{503, (*APIError).IsServerError, "server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &APIError{StatusCode: tt.status, Message: tt.name, Provider: "test"}
			if !tt.check(err) {
				t.Errorf("Expected predicate to hold for %d", tt.status)
			}
		})
	}

	err := &APIError{StatusCode: 400, Message: "bad", Code: "INVALID_ARGUMENT", Provider: "gemini"}
	want := "inference [gemini]: API error 400 (INVALID_ARGUMENT): bad"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
	if err.IsServerError() || err.IsRateLimited() {
		t.Error("Expected 400 to be neither server error nor rate limited")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("x", nil) != nil {
		t.Error("Expected nil for nil error")
	}

	err := WrapError(ProviderGemini, ErrNoContent)
	if !errors.Is(err, ErrNoContent) {
		t.Error("Expected wrapped error to match ErrNoContent")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != ProviderGemini {
		t.Errorf("Expected ProviderError for gemini, got %v", err)
	}
}

func TestNewFactory(t *testing.T) {
	p, err := New("mock")
	if err != nil || p.Name() != ProviderMock {
		t.Fatalf("Expected mock provider, got %v, %v", p, err)
	}

	p, err = New("OpenAI", WithBaseURL("http://localhost:11434/v1"))
	if err != nil || p.Name() != ProviderOpenAI {
		t.Fatalf("Expected openai provider, got %v, %v", p, err)
	}

	p, err = New(ProviderOllama)
	if err != nil || p.Name() != ProviderOpenAI {
		t.Fatalf("Expected ollama to use the openai provider, got %v, %v", p, err)
	}
	if o := p.(*OpenAI); o.baseURL != DefaultOllamaBaseURL || o.config.VisionModel != DefaultOllamaModel {
		t.Errorf("Expected ollama defaults, got %s %s", o.baseURL, o.config.VisionModel)
	}

	p, err = New(ProviderOllama, WithVisionModel("bakllava"))
	if err != nil || p.(*OpenAI).config.VisionModel != "bakllava" {
		t.Errorf("Expected explicit model to win, got %v", err)
	}

	p, err = New("", WithAPIKey("k"))
	if err != nil || p.Name() != ProviderGemini {
		t.Fatalf("Expected gemini provider, got %v, %v", p, err)
	}

	if _, err := New("bard"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider, got %v", err)
	}
}

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	data, err := EncodeJPEG(img, 0)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("Expected JPEG SOI marker")
	}

	b64, err := EncodeImageBase64(img, 90)
	if err != nil {
		t.Fatalf("EncodeImageBase64 failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("Expected valid base64: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Expected valid JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 8 {
		t.Errorf("Expected width 8, got %d", decoded.Bounds().Dx())
	}
}

func TestDefaultModel(t *testing.T) {
	tests := map[string]string{
		"":             DefaultGeminiModel,
		"Gemini":       DefaultGeminiModel,
		ProviderOpenAI: DefaultOpenAIModel,
		ProviderOllama: DefaultOllamaModel,
		ProviderMock:   "",
	}
	for name, want := range tests {
		if got := DefaultModel(name); got != want {
			t.Errorf("DefaultModel(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestRequestImagePrefersJPEG(t *testing.T) {
	req := &VisionRequest{JPEG: []byte{0xFF, 0xD8, 0xFF}}
	b64, err := requestImageBase64(req, 85)
	if err != nil {
		t.Fatal(err)
	}
	if b64 != "/9j/" {
		t.Errorf("Expected raw JPEG bytes to be encoded as-is, got %q", b64)
	}

	if _, err := requestImageBase64(&VisionRequest{}, 85); !errors.Is(err, ErrNoImage) {
		t.Errorf("Expected ErrNoImage, got %v", err)
	}
}
