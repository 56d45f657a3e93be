package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProvider_EmbedBatch_OrderedByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		// Deliberately return data out of order; index must win.
		w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1,0]},
			{"index":0,"embedding":[1,0,0]}
		]}`))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider("test-key",
		WithOpenAIBaseURL(srv.URL),
		WithOpenAIDimensions(3),
	)

	embs, err := provider.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if embs[0].Vector[0] != 1 {
		t.Errorf("first embedding not reordered by index: %v", embs[0].Vector)
	}
	if embs[1].Vector[1] != 1 {
		t.Errorf("second embedding not reordered by index: %v", embs[1].Vector)
	}
}

func TestOpenAIProvider_EmbedBatch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
	}))
	defer srv.Close()

	provider := NewOpenAIProvider("", WithOpenAIBaseURL(srv.URL))
	if _, err := provider.Embed(context.Background(), "text"); err == nil {
		t.Error("expected error for non-200 response")
	}
}
