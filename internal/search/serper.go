package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const serperDefaultURL = "https://google.serper.dev/search"

// Serper queries Google results through the serper.dev API.
type Serper struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewSerper(apiKey string) *Serper {
	return &Serper{
		apiKey:     apiKey,
		baseURL:    serperDefaultURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Serper) Name() string { return "google" }

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func (s *Serper) Search(ctx context.Context, query string) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("serper: missing API key")
	}

	body, err := json.Marshal(map[string]string{"q": query})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("serper: build request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("serper: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("serper: HTTP %d: %s", resp.StatusCode, string(b))
	}

	var sr serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("serper: decode response: %w", err)
	}

	results := sr.Organic
	if len(results) > 3 {
		results = results[:3]
	}
	if len(results) == 0 {
		return "Google: No results found.", nil
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- %s: %s (Source: %s)", r.Title, r.Snippet, r.Link))
	}
	return strings.Join(lines, "\n"), nil
}
