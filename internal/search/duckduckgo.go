package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const ddgDefaultURL = "https://api.duckduckgo.com/"

// DuckDuckGo queries the DuckDuckGo Instant Answer API. It needs no API
// key, so it remains available when the keyed backends are not configured.
type DuckDuckGo struct {
	baseURL    string
	httpClient *http.Client
}

func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		baseURL:    ddgDefaultURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	params := url.Values{
		"q":       {query},
		"format":  {"json"},
		"no_html": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("duckduckgo: build request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("duckduckgo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("duckduckgo: HTTP %d: %s", resp.StatusCode, string(b))
	}

	var dr ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", fmt.Errorf("duckduckgo: decode response: %w", err)
	}

	lines := make([]string, 0, 4)
	if dr.AbstractText != "" {
		lines = append(lines, fmt.Sprintf("- %s: %s (Source: %s)", dr.Heading, dr.AbstractText, dr.AbstractURL))
	}
	for _, t := range dr.RelatedTopics {
		if t.Text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (Source: %s)", t.Text, t.FirstURL))
		if len(lines) >= 3 {
			break
		}
	}
	if len(lines) == 0 {
		return "DuckDuckGo: No results found.", nil
	}
	return strings.Join(lines, "\n"), nil
}
