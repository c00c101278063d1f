// Package metadata fetches best-effort title/description/image data for a
// URL. It never fails once the URL itself is valid: every tier that errors
// hands over to the next, ending with a placeholder built from the domain.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrInvalidURL = errors.New("url must be an absolute http(s) url")

const (
	maxBodyBytes = 2 << 20
	userAgent    = "folio-metadata/1.0 (+https://folio.example)"
)

type Source string

const (
	SourceAPI         Source = "api"
	SourceHTML        Source = "html"
	SourceScrape      Source = "scrape"
	SourcePlaceholder Source = "placeholder"
)

type Metadata struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	Source      Source `json:"source"`
	Fallback    bool   `json:"_fallback,omitempty"`
}

func (m Metadata) complete() bool {
	return strings.TrimSpace(m.Title) != ""
}

type Options struct {
	// APIURL is an external unfurl endpoint called as APIURL?url=<target>.
	// Empty skips that tier.
	APIURL  string
	Timeout time.Duration
	Client  *http.Client
}

type Service struct {
	apiURL  string
	timeout time.Duration
	client  *http.Client
	logger  zerolog.Logger
}

func NewService(opts Options, logger zerolog.Logger) *Service {
	timeout := opts.Timeout
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 8 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Service{
		apiURL:  strings.TrimSpace(opts.APIURL),
		timeout: timeout,
		client:  client,
		logger:  logger.With().Str("component", "metadata").Logger(),
	}
}

// Normalize trims raw, adds https:// when no scheme is present and rejects
// anything that is not an absolute http(s) URL.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", ErrInvalidURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", ErrInvalidURL
	}
	return parsed.String(), nil
}

// Fetch runs the tiers in order and returns the first complete result.
func (s *Service) Fetch(ctx context.Context, rawURL string) (Metadata, error) {
	target, err := Normalize(rawURL)
	if err != nil {
		return Metadata{}, err
	}
	log := s.logger.With().Str("url", target).Logger()

	if s.apiURL != "" {
		meta, err := s.fromAPI(ctx, target)
		if err == nil && meta.complete() {
			return meta, nil
		}
		log.Debug().Err(err).Msg("metadata api tier failed")
	}

	body, finalURL, err := s.fetchBody(ctx, target)
	if err != nil {
		log.Debug().Err(err).Msg("direct fetch failed")
		return Placeholder(target), nil
	}
	meta, err := parseHTML(body, finalURL)
	if err == nil && meta.complete() {
		return meta, nil
	}
	log.Debug().Err(err).Msg("html tier incomplete")
	if meta := scrape(body, finalURL); meta.complete() {
		return meta, nil
	}

	return Placeholder(target), nil
}

type apiResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       any    `json:"image"`
	Logo        any    `json:"logo"`
	Publisher   string `json:"publisher"`
	URL         string `json:"url"`
	Data        *struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Image       any    `json:"image"`
		Logo        any    `json:"logo"`
		Publisher   string `json:"publisher"`
		URL         string `json:"url"`
	} `json:"data"`
}

// imageURL accepts either a plain string or an object with a url field, the
// two shapes common unfurl APIs return.
func imageURL(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case map[string]any:
		if u, ok := value["url"].(string); ok {
			return u
		}
	}
	return ""
}

func (s *Service) fromAPI(ctx context.Context, target string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint, err := url.Parse(s.apiURL)
	if err != nil {
		return Metadata{}, fmt.Errorf("parse api url: %w", err)
	}
	query := endpoint.Query()
	query.Set("url", target)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Metadata{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("call metadata api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("metadata api status %d", resp.StatusCode)
	}

	var payload apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata api: %w", err)
	}
	meta := Metadata{
		URL:         target,
		Title:       payload.Title,
		Description: payload.Description,
		Image:       imageURL(payload.Image),
		Favicon:     imageURL(payload.Logo),
		SiteName:    payload.Publisher,
		Source:      SourceAPI,
	}
	if payload.Data != nil {
		meta.Title = firstNonEmpty(meta.Title, payload.Data.Title)
		meta.Description = firstNonEmpty(meta.Description, payload.Data.Description)
		meta.Image = firstNonEmpty(meta.Image, imageURL(payload.Data.Image))
		meta.Favicon = firstNonEmpty(meta.Favicon, imageURL(payload.Data.Logo))
		meta.SiteName = firstNonEmpty(meta.SiteName, payload.Data.Publisher)
	}
	return meta, nil
}

func (s *Service) fetchBody(ctx context.Context, target string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("fetch page status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read page: %w", err)
	}
	return body, resp.Request.URL.String(), nil
}

// Placeholder is the last tier: the domain as title and a favicon service
// URL, flagged so clients know nothing was fetched.
func Placeholder(target string) Metadata {
	host := target
	if parsed, err := url.Parse(target); err == nil && parsed.Host != "" {
		host = parsed.Hostname()
	}
	host = strings.TrimPrefix(host, "www.")
	return Metadata{
		URL:      target,
		Title:    host,
		Favicon:  "https://www.google.com/s2/favicons?sz=64&domain=" + url.QueryEscape(host),
		SiteName: host,
		Source:   SourcePlaceholder,
		Fallback: true,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
