package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HordeClient generates images through an AI-Horde-style async job API:
// submit a job, then poll its status until done. Polling is bounded by a
// wall-clock ceiling; a job that outlives it yields a timeout string, not
// an endless loop.
type HordeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger

	pollInterval time.Duration
	maxWait      time.Duration
}

func NewHordeClient(baseURL, apiKey string, logger *zap.Logger) *HordeClient {
	return &HordeClient{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		logger:       logger,
		pollInterval: 2 * time.Second,
		maxWait:      2 * time.Minute,
	}
}

// Handler adapts the client to the tool contract.
func (h *HordeClient) Handler(ctx context.Context, args string) string {
	return h.Generate(ctx, PromptArg(args))
}

func (h *HordeClient) Generate(ctx context.Context, prompt string) string {
	jobID, err := h.submit(ctx, prompt)
	if err != nil {
		h.logger.Warn("image job submission failed", zap.Error(err))
		return fmt.Sprintf("Error: image generation failed (%v)", err)
	}
	h.logger.Info("image job submitted", zap.String("job_id", jobID))

	deadline := time.Now().Add(h.maxWait)
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "Error: image generation canceled."
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			h.logger.Warn("image job timed out", zap.String("job_id", jobID))
			return "Error: image generation timed out."
		}

		url, done, err := h.poll(ctx, jobID)
		if err != nil {
			h.logger.Warn("image job poll failed", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		if done {
			if url == "" {
				return "Error: image generation produced no output."
			}
			return fmt.Sprintf("![Generated Image](%s)", url)
		}
	}
}

func (h *HordeClient) submit(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"prompt": prompt,
		"params": map[string]any{
			"width":        576,
			"height":       576,
			"steps":        20,
			"sampler_name": "k_euler",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.baseURL+"/generate/async", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	h.setHeaders(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("submit: HTTP %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("submit: decode: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("submit: no job id returned")
	}
	return out.ID, nil
}

func (h *HordeClient) poll(ctx context.Context, jobID string) (url string, done bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		h.baseURL+"/generate/status/"+jobID, nil)
	if err != nil {
		return "", false, err
	}
	h.setHeaders(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, fmt.Errorf("status: HTTP %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Done        bool `json:"done"`
		Generations []struct {
			Img string `json:"img"`
		} `json:"generations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("status: decode: %w", err)
	}
	if !out.Done {
		return "", false, nil
	}
	if len(out.Generations) == 0 {
		return "", true, nil
	}
	return out.Generations[0].Img, true, nil
}

func (h *HordeClient) setHeaders(req *http.Request) {
	req.Header.Set("apikey", h.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Client-Agent", "parley:1.0 (image-tool)")
}
