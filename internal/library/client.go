// Package library is a client for the document service exposed by the local
// inference server. Teachers upload curriculum material there; the server
// indexes it for retrieval.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/baun-edu/baun-server/internal/domain"
)

// Client talks to the document endpoints of the local server.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// List returns all stored documents.
func (c *Client) List(ctx context.Context) ([]domain.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents", nil)
	if err != nil {
		return nil, err
	}
	var docs []domain.Document
	if err := c.doJSON(req, &docs); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// Upload sends a file as multipart form data and returns the stored document
// record.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (domain.Document, error) {
	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return domain.Document{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return domain.Document{}, fmt.Errorf("building upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.Document{}, fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/upload", strings.NewReader(body.String()))
	if err != nil {
		return domain.Document{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var doc domain.Document
	if err := c.doJSON(req, &doc); err != nil {
		return domain.Document{}, fmt.Errorf("uploading document: %w", err)
	}
	return doc, nil
}

// Delete removes a document by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	if err := c.doJSON(req, nil); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// Download streams a document's content. The caller owns the returned reader.
func (c *Client) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading document: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("downloading document: %s", serviceError(resp))
	}
	return resp.Body, nil
}

// Search returns documents matching the query.
func (c *Client) Search(ctx context.Context, query string) ([]domain.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/documents/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	var docs []domain.Document
	if err := c.doJSON(req, &docs); err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	return docs, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s", serviceError(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// serviceError extracts the server's JSON error message, falling back to the
// status code.
func serviceError(resp *http.Response) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
