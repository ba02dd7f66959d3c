package horosembed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/docenrich/llm"
)

func TestNoopEmbedder(t *testing.T) {
	emb := New(Config{Model: "text-embedding-3-large"})

	vec, err := emb.Embed(context.Background(), "halo")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3072 {
		t.Fatalf("expected 3072 dims, got %d", len(vec))
	}
	if emb.Dimension() != 3072 {
		t.Fatalf("expected dimension 3072, got %d", emb.Dimension())
	}
	if emb.Model() != "text-embedding-3-large" {
		t.Fatalf("unexpected model %q", emb.Model())
	}
}

func TestNoopEmbedBatch(t *testing.T) {
	emb := New(Config{Dimension: 128})

	vecs, err := emb.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 128 {
			t.Fatalf("vec[%d] has %d dims, expected 128", i, len(v))
		}
	}
}

func TestDimensionFor(t *testing.T) {
	cases := []struct {
		model    string
		override int
		want     int
	}{
		{"text-embedding-3-small", 0, 1536},
		{"text-embedding-3-large", 0, 3072},
		{"text-embedding-ada-002", 0, 1536},
		{"nomic-embed-text", 0, DefaultDimension},
		{"text-embedding-3-large", 256, 256},
	}
	for _, tc := range cases {
		if got := DimensionFor(tc.model, tc.override); got != tc.want {
			t.Errorf("DimensionFor(%q, %d) = %d, want %d", tc.model, tc.override, got, tc.want)
		}
	}
}

func embeddingServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		calls.Add(1)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type item struct {
			Object    string    `json:"object"`
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		}
		// Reverse order to check reassembly by index.
		data := make([]item, len(req.Input))
		for i := range req.Input {
			vec := make([]float64, dim)
			for j := range vec {
				vec[j] = float64(i+1) * 0.1 * float64(j+1)
			}
			data[len(req.Input)-1-i] = item{Object: "embedding", Embedding: vec, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 4, &calls)

	emb := New(Config{
		BaseURL:           srv.URL + "/v1/",
		APIKey:            "test",
		Model:             "test-model",
		Dimension:         4,
		BatchSize:         2,
		RequestsPerSecond: -1,
		Limiters:          llm.NewLimiters(),
	})

	vec, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 4 {
		t.Fatalf("expected 4 dims, got %d", len(vec))
	}

	// batchSize=2, 3 texts: 2 calls.
	vecs, err := emb.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if math.Abs(float64(vecs[1][0])-0.2) > 1e-6 {
		t.Errorf("vecs[1][0] = %f, want 0.2 (input order)", vecs[1][0])
	}
}

func TestOpenAIClientDimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 8, &calls)

	emb := New(Config{
		BaseURL:           srv.URL + "/v1/",
		APIKey:            "test",
		Model:             "text-embedding-3-small",
		RequestsPerSecond: -1,
		Limiters:          llm.NewLimiters(),
	})
	_, err := emb.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	original := []float32{1.0, -2.5, 3.14, 0, -0.001}
	restored, err := DecodeVector(EncodeVector(original))
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != len(original) {
		t.Fatalf("length mismatch: %d vs %d", len(restored), len(original))
	}
	for i := range original {
		if restored[i] != original[i] {
			t.Fatalf("mismatch at %d: %f vs %f", i, restored[i], original[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{2, 0, 0}
	c := []float32{0, 1, 0}

	if sim := Cosine(a, b, Norm(a), Norm(b)); math.Abs(sim-1.0) > 1e-6 {
		t.Fatalf("parallel vectors should have similarity ~1.0, got %f", sim)
	}
	if sim := Cosine(a, c, Norm(a), Norm(c)); math.Abs(sim) > 1e-6 {
		t.Fatalf("orthogonal vectors should have similarity ~0, got %f", sim)
	}
	if sim := Cosine(a, []float32{0, 0, 0}, 1, 0); sim != 0 {
		t.Fatalf("zero vector should score 0, got %f", sim)
	}
}

func TestNorm(t *testing.T) {
	if norm := Norm([]float32{3, 4}); math.Abs(norm-5.0) > 1e-6 {
		t.Fatalf("expected norm 5.0, got %f", norm)
	}
}
