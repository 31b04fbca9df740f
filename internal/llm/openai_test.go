package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
)

func TestUseModelStructuredRequest(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" {\"validatorId\":5} "}}]}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", LargeModel: "big"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	out, err := client.UseModel(context.Background(), ObjectLarge, "extract")
	if err != nil {
		t.Fatalf("UseModel failed: %v", err)
	}
	if out != `{"validatorId":5}` {
		t.Fatalf("unexpected content %q", out)
	}
	if got.Model != "big" || got.ResponseFormat["type"] != "json_object" {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Messages[len(got.Messages)-1].Content != "extract" {
		t.Fatalf("expected prompt as last message, got %+v", got.Messages)
	}
}

func TestUseModelTextSmall(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	client, _ := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	out, err := client.UseModel(context.Background(), TextSmall, "hi")
	if err != nil || out != "hello" {
		t.Fatalf("unexpected result %q err=%v", out, err)
	}
	if got.Model != defaultSmallModel || got.ResponseFormat != nil {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestUseModelEmptyChoicesIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client, _ := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	if _, err := client.UseModel(context.Background(), TextSmall, "hi"); !clierr.IsService(err) {
		t.Fatalf("expected service error, got %v", err)
	}
}

func TestMissingAPIKey(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{}); !clierr.IsService(err) {
		t.Fatalf("expected service error, got %v", err)
	}
}
