package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/teslashibe/go-lens/internal/httpc"
)

// Scope required by the Generative Language API when using OAuth credentials.
const generativeLanguageScope = "https://www.googleapis.com/auth/generative-language"

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Gemini implements the Provider interface for Google's Gemini API.
// Note: Gemini uses a different API format than OpenAI, so we implement it directly.
type Gemini struct {
	apiKey string
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini provider. One of an API key, a credentials
// file or an access token is required; the API key wins when several are set.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = DefaultGeminiBaseURL
	cfg.VisionModel = DefaultGeminiModel
	cfg.Apply(opts...)
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if cfg.APIKey == "" && cfg.CredentialsFile == "" && cfg.AccessToken == "" && cfg.HTTPClient == nil {
		return nil, WrapError(ProviderGemini, ErrNoAPIKey)
	}

	client, err := geminiHTTPClient(context.Background(), cfg)
	if err != nil {
		return nil, WrapError(ProviderGemini, err)
	}

	return &Gemini{
		apiKey: cfg.APIKey,
		config: cfg,
		http:   client,
		logger: cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// geminiHTTPClient picks the transport matching the configured credential.
func geminiHTTPClient(ctx context.Context, cfg *Config) (*http.Client, error) {
	switch {
	case cfg.HTTPClient != nil:
		return cfg.HTTPClient, nil

	case cfg.APIKey != "":
		return httpc.NewClient(cfg.Timeout), nil

	case cfg.AccessToken != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.AccessToken,
			TokenType:   "Bearer",
		})
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpc.NewClient(cfg.Timeout))
		client := oauth2.NewClient(ctx, ts)
		client.Timeout = cfg.Timeout
		return client, nil

	default:
		client, _, err := htransport.NewClient(ctx,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(generativeLanguageScope, cloudPlatformScope),
		)
		if err != nil {
			return nil, fmt.Errorf("credentials %s: %w", cfg.CredentialsFile, err)
		}
		client.Timeout = cfg.Timeout
		return client, nil
	}
}

// Name returns "gemini".
func (g *Gemini) Name() string {
	return ProviderGemini
}

// Vision analyzes an image using Gemini.
func (g *Gemini) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	start := time.Now()

	if !req.HasImage() {
		return nil, WrapError(ProviderGemini, ErrNoImage)
	}

	model := req.Model
	if model == "" {
		model = g.config.VisionModel
	}

	b64, err := requestImageBase64(req, g.config.JPEGQuality)
	if err != nil {
		return nil, WrapError(ProviderGemini, fmt.Errorf("encode image: %w", err))
	}

	// Image first, then the instruction.
	parts := []map[string]interface{}{
		{
			"inline_data": map[string]string{
				"mime_type": "image/jpeg",
				"data":      b64,
			},
		},
		{"text": req.Prompt},
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.config.MaxTokens
	}

	temp := req.Temperature
	if temp == 0 {
		temp = g.config.Temperature
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": parts},
		},
		"generationConfig": map[string]interface{}{
			"temperature":     temp,
			"maxOutputTokens": maxTokens,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(ProviderGemini, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.endpoint("/models/"+model+":generateContent"), bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(ProviderGemini, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	g.logger.Debug("generateContent",
		"model", model,
		"image_bytes", len(b64),
	)

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return nil, WrapError(ProviderGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, g.parseError(resp)
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(ProviderGemini, fmt.Errorf("decode response: %w", err))
	}

	if result.Error.Message != "" {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    result.Error.Message,
			Code:       result.Error.Status,
			Provider:   ProviderGemini,
		}
	}

	if reason := result.PromptFeedback.BlockReason; reason != "" {
		return nil, WrapError(ProviderGemini, fmt.Errorf("%w: prompt blocked (%s)", ErrNoContent, reason))
	}

	if len(result.Candidates) == 0 {
		return nil, WrapError(ProviderGemini, ErrNoContent)
	}

	candidate := result.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		if candidate.FinishReason != "" && candidate.FinishReason != "STOP" {
			return nil, WrapError(ProviderGemini, fmt.Errorf("%w: finish reason %s", ErrNoContent, candidate.FinishReason))
		}
		return nil, WrapError(ProviderGemini, ErrNoContent)
	}

	return &VisionResponse{
		Content:      text.String(),
		FinishReason: candidate.FinishReason,
		Usage: Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      result.UsageMetadata.TotalTokenCount,
		},
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health checks that the configured model is reachable with the credential.
func (g *Gemini) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.endpoint("/models/"+g.config.VisionModel), nil)
	if err != nil {
		return WrapError(ProviderGemini, err)
	}

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return WrapError(ProviderGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return g.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (g *Gemini) Close() error {
	g.http.CloseIdleConnections()
	return nil
}

// endpoint joins path onto the base URL, adding the API key when one is used.
func (g *Gemini) endpoint(path string) string {
	u := g.config.BaseURL + path
	if g.apiKey != "" {
		u += "?key=" + url.QueryEscape(g.apiKey)
	}
	return u
}

// parseError reads and parses an error response.
func (g *Gemini) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   ProviderGemini,
	}
}

// geminiResponse is the Gemini API response format.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Verify Gemini implements Provider at compile time.
var _ Provider = (*Gemini)(nil)
