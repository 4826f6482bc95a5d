package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/baun-edu/baun-server/internal/domain"
)

func TestLocalClientGenerate(t *testing.T) {
	t.Parallel()

	var gotReq chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Assistant: The answer is 4.\n\n<|assistant|> Done."}, "finish_reason": "stop"},
			},
		})
	}))
	defer srv.Close()

	client := NewLocalClient(srv.URL)
	got, err := client.Generate(context.Background(), Request{
		Message:      "What is 2+2?",
		Role:         domain.RoleStudent,
		SystemPrompt: "You are a tutor.",
		History:      []Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "The answer is 4.\nDone." {
		t.Fatalf("cleaned response = %q", got)
	}

	if len(gotReq.Messages) != 4 {
		t.Fatalf("message count = %d, want system + 2 history + user", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[0].Content != "You are a tutor." {
		t.Fatalf("first message = %+v", gotReq.Messages[0])
	}
	if last := gotReq.Messages[len(gotReq.Messages)-1]; last.Role != "user" || last.Content != "What is 2+2?" {
		t.Fatalf("last message = %+v", last)
	}
	if gotReq.Stream {
		t.Fatal("non-streaming request must not set stream")
	}
}

func TestLocalClientGenerateOmitsEmptySystemPrompt(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	if _, err := NewLocalClient(srv.URL).Generate(context.Background(), Request{Message: "hi"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestLocalClientGenerateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "server error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			},
			wantErr: ErrBackendUnreachable,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
			wantErr: ErrMalformedResponse,
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
			},
			wantErr: ErrMalformedResponse,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := NewLocalClient(srv.URL).Generate(context.Background(), Request{Message: "hi"})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLocalClientGenerateConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewLocalClient(srv.URL).Generate(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("err = %v, want ErrBackendUnreachable", err)
	}
}

func TestLocalClientGenerateStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming request must set stream")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n"))
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n"))
		w.Write([]byte(`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	stream, err := NewLocalClient(srv.URL).GenerateStream(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	var got strings.Builder
	for token, err := range stream {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		got.WriteString(token)
	}
	if got.String() != "Hello" {
		t.Fatalf("streamed = %q", got.String())
	}
}

func TestLocalClientGenerateStreamSetupFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewLocalClient(srv.URL).GenerateStream(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("err = %v, want ErrBackendUnreachable", err)
	}
}

func TestLocalClientHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(HealthStatus{Status: "ok", Model: "qwen2.5-1.5b"})
	}))
	defer srv.Close()

	status, err := NewLocalClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status.Status != "ok" || status.Model != "qwen2.5-1.5b" {
		t.Fatalf("status = %+v", status)
	}
}

func TestCleanResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"Assistant: hello", "hello"},
		{"USER: echo", "echo"},
		{"<|assistant|> reply", "reply"},
		{"line one\n\n\nline two", "line one\nline two"},
		{"  padded  ", "padded"},
	}

	for _, tc := range tests {
		if got := cleanResponse(tc.in); got != tc.want {
			t.Errorf("cleanResponse(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
