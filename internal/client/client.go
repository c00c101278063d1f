// Package client talks to the folio API over HTTP. PageClient adapts one of
// the caller's pages to editor.Backend so the editor and reorder board can be
// driven from the command line.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"folio/api/internal/blocks"
)

// APIError is a non-2xx response decoded from the API's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignIn exchanges credentials for an access token and keeps it for later
// calls.
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", body, &resp); err != nil {
		return err
	}
	c.token = resp.AccessToken
	return nil
}

func (c *Client) Token() string {
	return c.token
}

// Page returns a backend scoped to the caller's page with slug.
func (c *Client) Page(slug string) *PageClient {
	return &PageClient{client: c, slug: slug}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Code, envelope.Error
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// PageClient implements editor.Backend for one page.
type PageClient struct {
	client *Client
	slug   string
}

type blockList struct {
	Blocks []blocks.Rendered `json:"blocks"`
}

func (p *PageClient) pagePath() string {
	return "/api/protected/profile/pages/" + url.PathEscape(p.slug)
}

func (p *PageClient) call(ctx context.Context, method, path string, body any) ([]blocks.Block, error) {
	var resp blockList
	if err := p.client.do(ctx, method, path, body, &resp); err != nil {
		return nil, err
	}
	return blocks.FromRenderedList(resp.Blocks), nil
}

func (p *PageClient) Fetch(ctx context.Context) ([]blocks.Block, error) {
	return p.call(ctx, http.MethodGet, p.pagePath(), nil)
}

func (p *PageClient) Reorder(ctx context.Context, blockID string, newOrder int) error {
	body := map[string]any{"blockId": blockID, "newOrder": newOrder}
	return p.client.do(ctx, http.MethodPost, p.pagePath()+"/blocks/reorder", body, nil)
}

func (p *PageClient) AddBlock(ctx context.Context, input blocks.Input) ([]blocks.Block, error) {
	return p.call(ctx, http.MethodPost, p.pagePath()+"/blocks", input)
}

func (p *PageClient) UpdateBlock(ctx context.Context, blockID string, patch blocks.Patch) ([]blocks.Block, error) {
	return p.call(ctx, http.MethodPut, "/api/protected/profile/blocks/"+url.PathEscape(blockID), patch)
}

func (p *PageClient) DeleteBlock(ctx context.Context, blockID string) ([]blocks.Block, error) {
	return p.call(ctx, http.MethodDelete, "/api/protected/profile/blocks/"+url.PathEscape(blockID), nil)
}
