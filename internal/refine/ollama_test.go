package refine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOllamaClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "llama3.1" || req.Stream || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Prompt: ok"},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", "llama3.1", time.Second)
	got, err := c.Generate(context.Background(), []ChatMessage{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Prompt: ok" {
		t.Errorf("reply = %q", got)
	}
}

func TestOllamaClient_GenerateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "nope", time.Second).Generate(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

func TestOllamaClient_Models(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.1:latest","model":"llama3.1:latest"},{"name":"mistral"}]}`))
	}))
	defer srv.Close()

	got, err := NewOllamaClient(srv.URL, "", 0).Models(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "llama3.1:latest" || got[1] != "mistral" {
		t.Errorf("models = %v", got)
	}
}
