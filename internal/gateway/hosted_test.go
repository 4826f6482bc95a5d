package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/baun-edu/baun-server/internal/domain"
)

func TestHostedClientGenerate(t *testing.T) {
	t.Parallel()

	var gotReq hostedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Here is"))
		w.Write([]byte(" the answer."))
	}))
	defer srv.Close()

	client := NewHostedClient(srv.URL, "test-key")
	got, err := client.Generate(context.Background(), Request{
		Message:       "Explain osmosis",
		Role:          domain.RoleStudent,
		History:       []Turn{{Role: "assistant", Content: "previous"}},
		UserID:        "guest-student-abc",
		SocraticLevel: 2,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Here is the answer." {
		t.Fatalf("got %q", got)
	}

	if gotReq.UserRole != "student" || gotReq.UserID != "guest-student-abc" || gotReq.SocraticLevel != 2 {
		t.Fatalf("request = %+v", gotReq)
	}
	if len(gotReq.MessageHistory) != 1 {
		t.Fatalf("history = %+v", gotReq.MessageHistory)
	}
}

func TestHostedClientGenerateErrorEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "Missing API key"})
	}))
	defer srv.Close()

	_, err := NewHostedClient(srv.URL, "").Generate(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("err = %v, want ErrBackendUnreachable", err)
	}
	if !strings.Contains(err.Error(), "Missing API key") {
		t.Fatalf("error should carry the server's message, got %v", err)
	}
}

func TestHostedClientGenerateEmptyBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := NewHostedClient(srv.URL, "").Generate(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestHostedClientGenerateStreamSplitMultibyteRune(t *testing.T) {
	t.Parallel()

	// "café" with the é flushed one byte at a time, forcing its two UTF-8
	// bytes into separate reads.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("caf"))
		flusher.Flush()
		w.Write([]byte{0xc3})
		flusher.Flush()
		w.Write([]byte{0xa9})
		flusher.Flush()
	}))
	defer srv.Close()

	stream, err := NewHostedClient(srv.URL, "").GenerateStream(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	var got strings.Builder
	for token, err := range stream {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		if !utf8.ValidString(token) {
			t.Fatalf("token %q is not valid UTF-8", token)
		}
		got.WriteString(token)
	}
	if got.String() != "café" {
		t.Fatalf("streamed = %q", got.String())
	}
}

func TestCompleteRuneBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []byte
		want int
	}{
		{[]byte("plain"), 5},
		{[]byte("é"), 2},
		{[]byte{'a', 0xc3}, 1},
		{[]byte{0xe2, 0x82}, 0},
		{[]byte{}, 0},
	}

	for _, tc := range tests {
		if got := completeRuneBoundary(tc.in); got != tc.want {
			t.Errorf("completeRuneBoundary(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestHostedClientGenerateStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, token := range []string{"to", "ken", "s"} {
			w.Write([]byte(token))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	stream, err := NewHostedClient(srv.URL, "").GenerateStream(context.Background(), Request{Message: "hi"})
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
	if got.String() != "tokens" {
		t.Fatalf("streamed = %q", got.String())
	}
}
