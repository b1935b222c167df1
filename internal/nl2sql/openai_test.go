package nl2sql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIGeneratorSendsChatCompletion(t *testing.T) {
	var got chatPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Fatalf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```sql\\nselect 1\\n```" + `"}}]}`))
	}))
	defer server.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: server.URL + "/", APIKey: "key-1"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	if generator.Model() != "gpt-4o-mini" {
		t.Fatalf("Model() = %q", generator.Model())
	}

	out, err := generator.Generate(context.Background(), Prompt{System: "sys", User: "question"}, GenerateOptions{Temperature: 0})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "```sql\nselect 1\n```" {
		t.Fatalf("Generate() = %q, want raw content", out)
	}
	if got.Model != "gpt-4o-mini" || got.Temperature != 0 {
		t.Fatalf("payload = %#v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "question" {
		t.Fatalf("messages = %#v", got.Messages)
	}
}

func TestOpenAIGeneratorReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: server.URL, APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	_, err = generator.Generate(context.Background(), Prompt{User: "q"}, GenerateOptions{})
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestNewOpenAIGeneratorValidatesConfig(t *testing.T) {
	if _, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestBuildChatPayloadOmitsEmptySystem(t *testing.T) {
	payload := buildChatPayload("m", 0.3, Prompt{User: "u"})
	if len(payload.Messages) != 1 || payload.Messages[0].Role != "user" {
		t.Fatalf("Messages = %#v", payload.Messages)
	}
	if payload.Temperature != 0.3 {
		t.Fatalf("Temperature = %f", payload.Temperature)
	}
}
