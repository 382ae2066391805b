package inference

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIVision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected Bearer test-key, got %s", auth)
		}

		var reqBody struct {
			Model    string `json:"model"`
			Messages []struct {
				Content []map[string]interface{} `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&reqBody)
		if reqBody.Model != "llava" {
			t.Errorf("Expected model llava, got %s", reqBody.Model)
		}
		if len(reqBody.Messages) != 1 || len(reqBody.Messages[0].Content) != 2 {
			t.Errorf("Expected one message with two parts, got %+v", reqBody.Messages)
			return
		}
		imagePart := reqBody.Messages[0].Content[0]
		url, _ := imagePart["image_url"].(map[string]interface{})["url"].(string)
		if !strings.HasPrefix(url, "data:image/jpeg;base64,") {
			t.Errorf("Expected data URI, got %q", url)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "test-id",
			"model": "llava:13b",
			"choices": []map[string]interface{}{{
				"message":       map[string]string{"role": "assistant", "content": "A dog."},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13},
		})
	}))
	defer server.Close()

	client, err := NewOpenAI(
		WithBaseURL(server.URL),
		WithAPIKey("test-key"),
		WithVisionModel("llava"),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	resp, err := client.Vision(context.Background(), &VisionRequest{
		Image:  image.NewRGBA(image.Rect(0, 0, 4, 4)),
		Prompt: "What is this?",
	})
	if err != nil {
		t.Fatalf("Vision failed: %v", err)
	}
	if resp.Content != "A dog." {
		t.Errorf("Unexpected content: %s", resp.Content)
	}
	if resp.Model != "llava:13b" {
		t.Errorf("Expected server model name, got %s", resp.Model)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("Expected 13 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIVisionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	client, _ := NewOpenAI(WithBaseURL(server.URL))

	_, err := client.Vision(context.Background(), &VisionRequest{JPEG: []byte{0xFF}, Prompt: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if !apiErr.IsUnauthorized() || apiErr.Code != "invalid_api_key" {
		t.Errorf("Unexpected error: %+v", apiErr)
	}
}

func TestOpenAIVisionEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client, _ := NewOpenAI(WithBaseURL(server.URL))

	_, err := client.Vision(context.Background(), &VisionRequest{JPEG: []byte{0xFF}, Prompt: "x"})
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("Expected ErrNoContent, got %v", err)
	}
}

func TestOpenAIHealthWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("Expected /models, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("Expected no Authorization header without a key")
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client, _ := NewOpenAI(WithBaseURL(server.URL + "/"))
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("Health failed: %v", err)
	}
}
