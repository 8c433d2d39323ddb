package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := NewLocal()
	ctx := context.Background()

	a, err := e.Embed(ctx, "refactor the billing service")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(ctx, "refactor the billing service")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	// Identical text embeds identically; unit vectors dot to 1.
	if got := dot(a, b); math.Abs(got-1) > 1e-9 {
		t.Errorf("self-similarity = %v, want 1", got)
	}
}

func TestLocalEmbedderSharedVocabulary(t *testing.T) {
	e := NewLocal()
	ctx := context.Background()

	a, _ := e.Embed(ctx, "fix the database connection pool")
	b, _ := e.Embed(ctx, "database connection pool exhausted")
	c, _ := e.Embed(ctx, "render markdown preview panel")

	if dot(a, b) <= dot(a, c) {
		t.Errorf("related texts (%v) should score above unrelated (%v)", dot(a, b), dot(a, c))
	}
}

func TestLocalEmbedderEmptyText(t *testing.T) {
	e := NewLocal()
	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != localDimensions {
		t.Errorf("vector length = %d", len(vec))
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("empty text should embed to the zero vector")
		}
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Input != "hello" || req.Model != "test-model" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float64{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"})
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vector = %v", vec)
	}
}

func TestOpenAIEmbedderErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited"},
		})
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{BaseURL: srv.URL})
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error from non-200 response")
	}
}

func TestOpenAIEmbedderEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{BaseURL: srv.URL})
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for empty data")
	}
}
