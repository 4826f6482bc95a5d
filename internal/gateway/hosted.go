package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// hostedRequest is the hosted completion API's wire format. The service
// assembles its own system prompt server-side from the role, socratic level
// and user id, so none of the prompt text travels in the request.
type hostedRequest struct {
	Message        string `json:"message"`
	UserRole       string `json:"userRole"`
	MessageHistory []Turn `json:"messageHistory"`
	UserID         string `json:"userId,omitempty"`
	SocraticLevel  int    `json:"socraticLevel,omitempty"`
}

type hostedError struct {
	Error string `json:"error"`
}

// HostedClient talks to the hosted completion API. Successful responses are a
// raw plain-text token stream; failures are JSON error envelopes.
type HostedClient struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHostedClient creates a client for the given endpoint URL. The API key
// may be empty when the endpoint handles auth itself.
func NewHostedClient(url, apiKey string) *HostedClient {
	return &HostedClient{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HostedClient) Name() string { return "hosted" }

// Generate requests a completion and drains the token stream into one string.
func (c *HostedClient) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", ErrBackendUnreachable, err)
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	return text, nil
}

// GenerateStream requests a completion and yields tokens as they arrive.
// Reads can split a multi-byte UTF-8 character, so bytes past the last
// complete rune are held back and prepended to the next chunk.
func (c *HostedClient) GenerateStream(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	return func(yield func(string, error) bool) {
		defer resp.Body.Close()

		var pending []byte
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := append(pending, buf[:n]...)
				cut := completeRuneBoundary(chunk)
				pending = append([]byte(nil), chunk[cut:]...)
				if cut > 0 && !yield(string(chunk[:cut]), nil) {
					return
				}
			}
			if err == io.EOF {
				if len(pending) > 0 {
					yield(string(pending), nil)
				}
				return
			}
			if err != nil {
				yield("", fmt.Errorf("%w: reading stream: %v", ErrBackendUnreachable, err))
				return
			}
		}
	}, nil
}

// completeRuneBoundary returns the length of the longest prefix of b that
// ends on a complete UTF-8 rune.
func completeRuneBoundary(b []byte) int {
	for i := len(b) - 1; i >= 0 && len(b)-i <= utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

func (c *HostedClient) post(ctx context.Context, req Request) (*http.Response, error) {
	history := req.History
	if history == nil {
		history = []Turn{}
	}
	payload, err := json.Marshal(hostedRequest{
		Message:        req.Message,
		UserRole:       string(req.Role),
		MessageHistory: history,
		UserID:         req.UserID,
		SocraticLevel:  req.SocraticLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var apiErr hostedError
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrBackendUnreachable, resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("%w: status %d", ErrBackendUnreachable, resp.StatusCode)
	}
	return resp, nil
}
