package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *GraphOllamaClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewGraphOllamaClient(NewGraphOllamaClientParams{
		ChatModel:      "llama3",
		EmbeddingModel: "nomic-embed-text",
		BaseURL:        srv.URL,
	})
	if err != nil {
		t.Fatalf("NewGraphOllamaClient() error = %v", err)
	}
	return client
}

func TestGenerateEmbeddings_Batch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "nomic-embed-text" || len(req.Input) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = io.WriteString(w, `{"model":"nomic-embed-text","embeddings":[[1,0],[0,1]],"prompt_eval_count":6}`)
	})
	client := newTestClient(t, mux)

	out, err := client.GenerateEmbeddings(context.Background(), [][]byte{[]byte("a b"), []byte("c d")})
	if err != nil {
		t.Fatalf("GenerateEmbeddings() error = %v", err)
	}
	if len(out) != 2 || out[0][0] != 1 || out[1][1] != 1 {
		t.Fatalf("unexpected embeddings: %v", out)
	}
	if client.GetMetrics().InputTokens != 6 {
		t.Fatalf("metrics not recorded: %+v", client.GetMetrics())
	}
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req["format"] == nil {
			t.Errorf("expected a schema in format")
		}
		_, _ = io.WriteString(w, `{"model":"llama3","message":{"role":"assistant","content":"{\"triplets\":[]}"},"done":true,"prompt_eval_count":5,"eval_count":3}`)
	})
	client := newTestClient(t, mux)

	var out struct {
		Triplets []struct {
			Head string `json:"head"`
		} `json:"triplets"`
	}
	if err := client.GenerateCompletionWithFormat(context.Background(), "triplets", "", "text", &out); err != nil {
		t.Fatalf("GenerateCompletionWithFormat() error = %v", err)
	}
	if out.Triplets == nil {
		t.Fatalf("expected empty, non-nil list")
	}
	if m := client.GetMetrics(); m.TotalTokens != 8 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestGenerateCompletionWithFormat_RequiresPointer(t *testing.T) {
	client := newTestClient(t, http.NewServeMux())

	var out struct{}
	if err := client.GenerateCompletionWithFormat(context.Background(), "x", "", "p", out); err == nil {
		t.Fatalf("expected error for non-pointer out")
	}
}
