package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewOllamaProvider_Defaults(t *testing.T) {
	provider := NewOllamaProvider()

	if provider.baseURL != DefaultOllamaURL {
		t.Errorf("baseURL = %s, want %s", provider.baseURL, DefaultOllamaURL)
	}
	if provider.model != DefaultModel {
		t.Errorf("model = %s, want %s", provider.model, DefaultModel)
	}
	if provider.dimensions != DefaultDimensions {
		t.Errorf("dimensions = %d, want %d", provider.dimensions, DefaultDimensions)
	}
	if provider.client == nil {
		t.Error("client should not be nil")
	}
}

func TestNewOllamaProvider_WithOptions(t *testing.T) {
	provider := NewOllamaProvider(
		WithBaseURL("http://custom:8080"),
		WithModel("custom-model"),
		WithDimensions(768),
		WithTimeout(90*time.Second),
	)

	if provider.baseURL != "http://custom:8080" {
		t.Errorf("baseURL = %s", provider.baseURL)
	}
	if provider.ModelName() != "custom-model" {
		t.Errorf("ModelName() = %s", provider.ModelName())
	}
	if provider.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d", provider.Dimensions())
	}
	if provider.client.Timeout != 90*time.Second {
		t.Errorf("timeout = %v", provider.client.Timeout)
	}
}

func TestOllamaProvider_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiPathEmbed {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{1, 0, 0})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	provider := NewOllamaProvider(WithBaseURL(srv.URL), WithDimensions(3))

	embs, err := provider.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(embs) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(embs))
	}
	if embs[0].Dimensions() != 3 {
		t.Errorf("expected 3 dimensions, got %d", embs[0].Dimensions())
	}
}

func TestOllamaProvider_EmbedBatch_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 0}}})
	}))
	defer srv.Close()

	provider := NewOllamaProvider(WithBaseURL(srv.URL), WithDimensions(3))
	if _, err := provider.EmbedBatch(context.Background(), []string{"one"}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestOllamaProvider_EmbedBatch_Empty(t *testing.T) {
	provider := NewOllamaProvider()
	embs, err := provider.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil) failed: %v", err)
	}
	if embs != nil {
		t.Errorf("expected nil result for empty input, got %v", embs)
	}
}

func TestFormatErrorBody(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple error message", input: "error occurred", expected: "error occurred"},
		{name: "empty body", input: "", expected: ""},
		{name: "json error", input: `{"error": "not found"}`, expected: `{"error": "not found"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatErrorBody(strings.NewReader(tt.input))
			if result != tt.expected {
				t.Errorf("formatErrorBody() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestProviders_ImplementProvider(t *testing.T) {
	var _ Provider = (*OllamaProvider)(nil)
	var _ Provider = (*OpenAIProvider)(nil)
}
