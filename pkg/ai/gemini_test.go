package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewGeminiClient("test-key")
	if err != nil {
		t.Fatalf("NewGeminiClient: %v", err)
	}
	client.SetBaseURL(srv.URL)
	return client
}

func candidateReply(text string) string {
	reply := map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	}
	raw, _ := json.Marshal(reply)
	return string(raw)
}

func TestGenerateJSONSendsSchema(t *testing.T) {
	var gotBody generateRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "models/gemini-1.5-flash-latest:generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(candidateReply(`{"ok":true}`)))
	})

	var out struct {
		OK bool `json:"ok"`
	}
	schema := &Schema{Type: "OBJECT", Properties: map[string]*Schema{"ok": {Type: "BOOLEAN"}}}
	if err := client.GenerateJSON(context.Background(), "models/gemini-1.5-flash-latest", "hola", schema, &out); err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if !out.OK {
		t.Fatal("response not decoded")
	}
	if gotBody.GenerationConfig == nil || gotBody.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Fatalf("generationConfig = %#v", gotBody.GenerationConfig)
	}
	if gotBody.GenerationConfig.ResponseSchema == nil {
		t.Fatal("responseSchema not sent")
	}
}

func TestGenerateJSONMalformedReply(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(candidateReply("not json at all")))
	})

	var out map[string]any
	err := client.GenerateJSON(context.Background(), "m", "p", nil, &out)
	if err == nil || !strings.Contains(err.Error(), "malformed JSON") {
		t.Fatalf("err = %v, want malformed JSON error", err)
	}
}

func TestGenerateTextSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})

	_, err := client.GenerateText(context.Background(), "m", "p")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v, want quota message", err)
	}
}

func TestGenerateTextEmptyCandidates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})

	_, err := client.GenerateText(context.Background(), "m", "p")
	if err == nil {
		t.Fatal("expected error for empty candidates")
	}
}
